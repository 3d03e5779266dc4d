package state

var (
	minterStateKeyBytes = []byte("minter/state")
	tokenSupplyKeyBytes = []byte("token/supply")
	tokenBalancePrefix  = []byte("token/balance/")
	nativeBalancePrefix = []byte("native/balance/")
	ovenRecordPrefix    = []byte("minter/oven/")
)
