package util

import (
	"fmt"
	"strconv"
)

// ParsePositiveInt 解析路径参数中的正整数，如题号
func ParsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	if n < 1 {
		return 0, fmt.Errorf("number must be positive, got %d", n)
	}
	return n, nil
}
