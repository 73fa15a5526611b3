// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

//go:build vulkan

package main

import _ "github.com/devblok/korugfx/backend/vulkan"
