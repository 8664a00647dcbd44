package domain

import "fmt"

type Resolution string

const (
	Resolution_1m  Resolution = "1m"
	Resolution_5m  Resolution = "5m"
	Resolution_15m Resolution = "15m"
	Resolution_1h  Resolution = "1h"
	Resolution_4h  Resolution = "4h"
	Resolution_1d  Resolution = "1d"
)

// DefaultResolution is assumed for price history frames that omit one.
const DefaultResolution = Resolution_1m

var resolutions = []Resolution{
	Resolution_1m, Resolution_5m, Resolution_15m, Resolution_1h, Resolution_4h, Resolution_1d,
}

func ParseResolution(s string) (Resolution, error) {
	if s == "" {
		return DefaultResolution, nil
	}

	for _, r := range resolutions {
		if string(r) == s {
			return r, nil
		}
	}

	return "", fmt.Errorf("unsupported resolution %q", s)
}

func (r Resolution) String() string {
	return string(r)
}
