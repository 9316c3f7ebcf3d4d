package withdrawal

import "time"

const (
	DefaultStoreTimeout = 5 * time.Second
	DefaultCurrency     = "usd"

	operationWithdraw = "withdraw"
	operationReserve  = "reserve_withdrawal"
	operationAttach   = "attach_payout_reference"
)
