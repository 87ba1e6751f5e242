package grid

import "fmt"

// SidePolicy decides the trade side of a row. Rows above the reference are
// always long and rows below short; the policy only settles the reference
// row itself (cellY == 0).
type SidePolicy int

const (
	ZeroRowShort SidePolicy = iota
	ZeroRowLong
	ZeroRowReject
)

func ParseSidePolicy(s string) (SidePolicy, error) {
	switch s {
	case "", "short":
		return ZeroRowShort, nil
	case "long":
		return ZeroRowLong, nil
	case "reject":
		return ZeroRowReject, nil
	}
	return ZeroRowShort, fmt.Errorf("unknown zero row policy %q", s)
}

func (p SidePolicy) IsLong(cellY int) (bool, error) {
	switch {
	case cellY > 0:
		return true, nil
	case cellY < 0:
		return false, nil
	}
	switch p {
	case ZeroRowLong:
		return true, nil
	case ZeroRowReject:
		return false, ErrReferenceRow
	}
	return false, nil
}

func (p SidePolicy) String() string {
	switch p {
	case ZeroRowLong:
		return "long"
	case ZeroRowReject:
		return "reject"
	}
	return "short"
}
