package authz

import (
	"math/bits"
	"sort"
	"strings"
)

type PermissionMask uint64

const (
	PermissionPublicDashboard PermissionMask = 1 << iota
	PermissionBudgetControl
	PermissionFundAllocation
	PermissionProjectApproval
	PermissionVendorManagement
	PermissionClaimSubmission
	PermissionClaimReview
	PermissionPaymentRelease
	PermissionSupplierManagement
	PermissionDeliveryTracking
	PermissionAuditAccess
	PermissionFraudReporting
	PermissionReportGeneration
	PermissionUserManagement
	PermissionLedgerTransfer
)

// PermissionMinimal is granted to any role the resolver does not know.
const PermissionMinimal = PermissionPublicDashboard

var permissionIDs = map[PermissionMask]string{
	PermissionPublicDashboard:    "public_dashboard",
	PermissionBudgetControl:      "budget_control",
	PermissionFundAllocation:     "fund_allocation",
	PermissionProjectApproval:    "project_approval",
	PermissionVendorManagement:   "vendor_management",
	PermissionClaimSubmission:    "claim_submission",
	PermissionClaimReview:        "claim_review",
	PermissionPaymentRelease:     "payment_release",
	PermissionSupplierManagement: "supplier_management",
	PermissionDeliveryTracking:   "delivery_tracking",
	PermissionAuditAccess:        "audit_access",
	PermissionFraudReporting:     "fraud_reporting",
	PermissionReportGeneration:   "report_generation",
	PermissionUserManagement:     "user_management",
	PermissionLedgerTransfer:     "ledger_transfer",
}

var permissionsByID = func() map[string]PermissionMask {
	out := make(map[string]PermissionMask, len(permissionIDs))
	for mask, id := range permissionIDs {
		out[id] = mask
	}
	return out
}()

// ParsePermission maps a wire identifier such as "claim_submission" to its bit.
func ParsePermission(id string) (PermissionMask, bool) {
	mask, ok := permissionsByID[strings.ToLower(strings.TrimSpace(id))]
	return mask, ok
}

func (m PermissionMask) Has(p PermissionMask) bool {
	return p != 0 && m&p == p
}

func (m PermissionMask) HasAll(required PermissionMask) bool {
	return m&required == required
}

func (m PermissionMask) HasAny(required PermissionMask) bool {
	return m&required != 0
}

func (m PermissionMask) Len() int {
	return bits.OnesCount64(uint64(m))
}

// Names returns the identifiers of every known bit set in m, sorted.
func (m PermissionMask) Names() []string {
	names := make([]string, 0, m.Len())
	for mask, id := range permissionIDs {
		if m&mask != 0 {
			names = append(names, id)
		}
	}
	sort.Strings(names)
	return names
}

func (m PermissionMask) String() string {
	return strings.Join(m.Names(), ",")
}
