package middleware

import (
	"errors"
	"net/http"

	"nbexec/internal/gateway/handlers"
	"nbexec/internal/namespace"
)

const (
	// AcceptContractHeader carries the caller's semver constraint.
	AcceptContractHeader = "Accept-Contract"
	// ContractVersionHeader reports the served namespace contract.
	ContractVersionHeader = "Contract-Version"
)

// Contract negotiates the namespace slot contract. It always sets
// Contract-Version; a malformed Accept-Contract is rejected with 406 and an
// unsatisfied one with 412.
func Contract(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(ContractVersionHeader, namespace.ContractVersion)

		err := namespace.CheckContract(r.Header.Get(AcceptContractHeader))
		switch {
		case err == nil:
			next.ServeHTTP(w, r)
		case errors.Is(err, namespace.ErrInvalidConstraint):
			handlers.Fail(w, handlers.ErrCodeInvalidContract, err.Error())
		default:
			handlers.Fail(w, handlers.ErrCodeContractMismatch, err.Error())
		}
	})
}
