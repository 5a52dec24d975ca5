/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package build

import "fmt"

// Set with -ldflags "-X github.com/Juice-Labs/annserver/cmd/internal/build.Commit=..."
var (
	Major    = 0
	Minor    = 1
	Revision = 0
	Commit   = ""

	Version = version()
)

func version() string {
	if Commit != "" {
		return fmt.Sprintf("%d.%d.%d-%s", Major, Minor, Revision, Commit)
	}
	return fmt.Sprintf("%d.%d.%d", Major, Minor, Revision)
}
