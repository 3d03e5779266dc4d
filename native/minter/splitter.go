package minter

import "github.com/holiman/uint256"

// Split divides amount between the developer fund and the stability fund.
// The developer share is floored; the stability fund absorbs the rounding so
// the two shares always sum to amount.
func Split(amount, devRatio *uint256.Int) (dev, stability *uint256.Int, err error) {
	dev, err = mulDiv(clone(amount), clone(devRatio), precision)
	if err != nil {
		return nil, nil, err
	}
	stability, err = sub(clone(amount), dev)
	if err != nil {
		return nil, nil, err
	}
	return dev, stability, nil
}
