// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package _default includes the default allocators, namely "simple" (host memory) and "wasm"
// (WebAssembly linear memory).
//
// To use it simply include:
//
//	import _ "github.com/vmbbc/plaidml/buffers/default"
//
// The "simple" allocator is registered first, so it's the default when no configuration is given.
package _default

import (
	_ "github.com/vmbbc/plaidml/buffers/simple"
	_ "github.com/vmbbc/plaidml/buffers/wasmmem"
)
