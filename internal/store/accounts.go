package store

// Account limits/usage. §9's Open Question on set/get_account_limits is
// resolved per SPEC_FULL.md §11: a minimal rse_id x account -> bytes map,
// no proration or hierarchy.

func (tx *Tx) SetAccountLimit(account, rseID string, bytes int64) {
	tx.db.accountLimits[AccountLimitKey{Account: account, RSEID: rseID}] = bytes
}

func (tx *Tx) GetAccountLimit(account, rseID string) int64 {
	return tx.db.accountLimits[AccountLimitKey{Account: account, RSEID: rseID}]
}

func (tx *Tx) SetAccountUsage(account, rseID string, bytes int64) {
	tx.db.accountUsage[AccountUsageKey{Account: account, RSEID: rseID}] = bytes
}

func (tx *Tx) AddAccountUsage(account, rseID string, delta int64) {
	k := AccountUsageKey{Account: account, RSEID: rseID}
	tx.db.accountUsage[k] += delta
}

func (tx *Tx) GetAccountUsage(account, rseID string) int64 {
	return tx.db.accountUsage[AccountUsageKey{Account: account, RSEID: rseID}]
}

// QuotaLeft returns account_limit(rse) - account_usage(rse), the exact
// quantity RSESelector construction needs (§4.C).
func (tx *Tx) QuotaLeft(account, rseID string) int64 {
	return tx.GetAccountLimit(account, rseID) - tx.GetAccountUsage(account, rseID)
}
