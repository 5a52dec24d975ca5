/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package main

import (
	"fmt"
	"strconv"
	"strings"
)

// parseDims reads "WxHxC". The empty string is all zeros, which the server
// accepts as "the model's own shape".
func parseDims(value string) ([3]int32, error) {
	var dims [3]int32
	if value == "" {
		return dims, nil
	}

	parts := strings.Split(strings.ToLower(value), "x")
	if len(parts) != 3 {
		return dims, fmt.Errorf("dims %q are not WxHxC", value)
	}

	for i, part := range parts {
		n, err := strconv.ParseInt(part, 10, 32)
		if err != nil || n <= 0 {
			return dims, fmt.Errorf("dims %q are not WxHxC", value)
		}
		dims[i] = int32(n)
	}

	return dims, nil
}

func formatDims(dims [3]int32) string {
	return fmt.Sprintf("%dx%dx%d", dims[0], dims[1], dims[2])
}
