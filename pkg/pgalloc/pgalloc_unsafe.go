// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pgalloc

import (
	"unsafe"
)

// descriptors views the descriptor prefix of the heap as a descriptor array.
func descriptors(b []byte) []descriptor {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*descriptor)(unsafe.Pointer(unsafe.SliceData(b))), len(b))
}
