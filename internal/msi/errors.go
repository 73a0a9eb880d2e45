// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package msi

import "errors"

var (
	// No free virtual interrupt slots; the caller must run the device with
	// fewer or no MSI vectors.
	ErrNoSpace = errors.New("no free msi slots")

	ErrInvalid      = errors.New("invalid msi state")
	ErrNotAllocated = errors.New("msi slot not allocated")
)
