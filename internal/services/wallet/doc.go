/*
Package wallet provides the read side of the ledger and wallet provisioning.

Balances are only ever changed by the withdrawal, deposit and intent
components. This package reads them, through a Redis cache that those
components invalidate after every change, and lists a wallet's transactions.

Usage:

	svc := wallet.NewService(store, cache, wallet.Config{}, logger, metrics)

	// Provision a wallet; a second call for the same owner returns the first
	w, created, err := svc.CreateWallet(ctx, ownerID, "usd")

	// Read a wallet the caller owns
	w, err = svc.GetOwnedWallet(ctx, walletID, ownerID)

	// List its transactions, newest first
	page, err := svc.ListTransactions(ctx, walletID, 1, 20)
*/
package wallet
