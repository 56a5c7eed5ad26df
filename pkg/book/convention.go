package book

// The book is kept from the operator's perspective. Asset and control
// accounts are debit-normal; liability and equity accounts are
// credit-normal. Customer accounts are liabilities, so a deposit credits
// the customer account and debits the clearing control account.

// NormalDirection returns the side on which balances of the given account
// type grow.
func NormalDirection(accountType AccountType) EntryDirection {
	switch accountType {
	case AccountAsset, AccountControl:
		return DirectionDebit
	default:
		return DirectionCredit
	}
}

// SignedDelta converts one entry into the signed balance movement it causes
// on its account: +amount on the account's normal side, -amount otherwise.
func SignedDelta(accountType AccountType, direction EntryDirection, amount AmountMinor) int64 {
	if direction == NormalDirection(accountType) {
		return amount.Int64()
	}
	return -amount.Int64()
}
