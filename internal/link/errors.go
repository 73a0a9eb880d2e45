// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package link

import "errors"

var (
	ErrInvalidState   = errors.New("invalid link state")
	ErrRecoveryFailed = errors.New("link recovery failed")
	ErrTimeout        = errors.New("linkdown handling not finished")
	ErrNoSubscriber   = errors.New("no link event subscriber")
)
