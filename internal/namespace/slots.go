package namespace

import (
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Contract slot names. Callers' cell code relies on these exact names.
const (
	SlotFileContent   = "file_content"
	SlotDataFrame     = "df"
	SlotMeta          = "meta"
	SlotPDFReader     = "pdf_reader"
	SlotOutputContent = "output_content"
)

// ContractVersion is the version of the slot-name contract.
const ContractVersion = "1.0.0"

var contractVersion = semver.MustParse(ContractVersion)

var (
	// ErrInvalidConstraint is returned for constraints that do not parse.
	ErrInvalidConstraint = errors.New("invalid contract constraint")
	// ErrContractMismatch is returned when the served contract is outside
	// the requested range.
	ErrContractMismatch = errors.New("contract mismatch")
)

// Slots returns the contract slot names in documentation order.
func Slots() []string {
	return []string{SlotFileContent, SlotDataFrame, SlotMeta, SlotPDFReader, SlotOutputContent}
}

// CheckContract verifies that the served contract satisfies a caller's
// semver constraint such as "^1.0" or ">= 1.0, < 2". An empty constraint
// always matches.
func CheckContract(constraint string) error {
	if constraint == "" {
		return nil
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidConstraint, constraint, err)
	}
	if ok, errs := c.Validate(contractVersion); !ok {
		if len(errs) > 0 {
			return fmt.Errorf("%w: %s does not satisfy %q: %v", ErrContractMismatch, ContractVersion, constraint, errs[0])
		}
		return fmt.Errorf("%w: %s does not satisfy %q", ErrContractMismatch, ContractVersion, constraint)
	}
	return nil
}
