package provider

import (
	"sort"

	"github.com/kenneth/chart-vault/internal/ledger"
)

// sortByReputation orders by reputation, then completed services, then
// account so listings are stable.
func sortByReputation(p []*ledger.ProviderProfile) {
	sort.Slice(p, func(i, j int) bool {
		a, b := p[i], p[j]
		if a.Reputation != b.Reputation {
			return a.Reputation > b.Reputation
		}
		if a.CompletedServices != b.CompletedServices {
			return a.CompletedServices > b.CompletedServices
		}
		return a.Account < b.Account
	})
}
