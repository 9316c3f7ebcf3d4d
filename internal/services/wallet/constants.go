package wallet

const (
	DefaultCurrency = "usd"

	DefaultPageSize = 20
	MaxPageSize     = 100

	cacheName = "wallet"
)
