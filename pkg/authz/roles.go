package authz

import (
	"strings"

	"golang.org/x/text/language"
)

type Role string

const (
	RoleCentralGovernment Role = "central_government"
	RoleStateHead         Role = "state_head"
	RoleDeputy            Role = "deputy"
	RoleVendor            Role = "vendor"
	RoleSubSupplier       Role = "sub_supplier"
	RoleCitizen           Role = "citizen"
	RoleAuditor           Role = "auditor"
)

// RoleDefinition is static, load-time data. DisplayNames is keyed by locale;
// the English entry is used when no better match exists.
type RoleDefinition struct {
	ID           Role
	DisplayNames map[language.Tag]string
	Permissions  PermissionMask
}

func ParseRole(raw string) Role {
	return Role(strings.ToLower(strings.TrimSpace(raw)))
}

func DefaultRoleDefinitions() []RoleDefinition {
	return []RoleDefinition{
		{
			ID: RoleCentralGovernment,
			DisplayNames: map[language.Tag]string{
				language.English: "Government Official",
				language.Hindi:   "सरकारी अधिकारी",
			},
			Permissions: PermissionPublicDashboard | PermissionBudgetControl | PermissionFundAllocation |
				PermissionProjectApproval | PermissionVendorManagement | PermissionPaymentRelease |
				PermissionReportGeneration | PermissionUserManagement | PermissionLedgerTransfer,
		},
		{
			ID: RoleStateHead,
			DisplayNames: map[language.Tag]string{
				language.English: "State Head",
				language.Hindi:   "राज्य प्रमुख",
			},
			Permissions: PermissionPublicDashboard | PermissionFundAllocation | PermissionProjectApproval |
				PermissionVendorManagement | PermissionClaimReview | PermissionReportGeneration |
				PermissionLedgerTransfer,
		},
		{
			ID: RoleDeputy,
			DisplayNames: map[language.Tag]string{
				language.English: "Deputy Officer",
				language.Hindi:   "उप अधिकारी",
			},
			Permissions: PermissionPublicDashboard | PermissionClaimReview | PermissionDeliveryTracking |
				PermissionReportGeneration,
		},
		{
			ID: RoleVendor,
			DisplayNames: map[language.Tag]string{
				language.English: "Vendor",
				language.Hindi:   "विक्रेता",
			},
			Permissions: PermissionPublicDashboard | PermissionClaimSubmission | PermissionSupplierManagement |
				PermissionDeliveryTracking,
		},
		{
			ID: RoleSubSupplier,
			DisplayNames: map[language.Tag]string{
				language.English: "Sub-Supplier",
				language.Hindi:   "उप-आपूर्तिकर्ता",
			},
			Permissions: PermissionPublicDashboard | PermissionClaimSubmission | PermissionDeliveryTracking,
		},
		{
			ID: RoleCitizen,
			DisplayNames: map[language.Tag]string{
				language.English: "Citizen",
				language.Hindi:   "नागरिक",
			},
			Permissions: PermissionPublicDashboard | PermissionFraudReporting,
		},
		{
			ID: RoleAuditor,
			DisplayNames: map[language.Tag]string{
				language.English: "Auditor",
				language.Hindi:   "लेखा परीक्षक",
			},
			Permissions: PermissionPublicDashboard | PermissionAuditAccess | PermissionReportGeneration |
				PermissionFraudReporting,
		},
	}
}
