package model

type Role string

const (
	RoleCustomer       Role = "customer"
	RoleBranchStaff    Role = "branch_staff"
	RoleFranchiseAdmin Role = "franchise_admin"
	RoleSuperAdmin     Role = "super_admin"
)

type Capability string

const (
	CapRedeem           Capability = "redeem"
	CapSubmitActivity   Capability = "submit_activity"
	CapReviewActivity   Capability = "review_activity"
	CapViewAnyAccount   Capability = "view_any_account"
	CapManageAccounts   Capability = "manage_accounts"
	CapDeactivate       Capability = "deactivate_account"
	CapCompleteReferral Capability = "complete_referral"
)

var capabilities = map[Role][]Capability{
	RoleCustomer:       {CapRedeem, CapSubmitActivity},
	RoleBranchStaff:    {CapReviewActivity, CapViewAnyAccount},
	RoleFranchiseAdmin: {CapReviewActivity, CapViewAnyAccount, CapManageAccounts, CapCompleteReferral},
	RoleSuperAdmin:     {CapReviewActivity, CapViewAnyAccount, CapManageAccounts, CapDeactivate, CapCompleteReferral},
}

func (r Role) Valid() bool {
	_, ok := capabilities[r]
	return ok
}

func (r Role) Can(c Capability) bool {
	for _, have := range capabilities[r] {
		if have == c {
			return true
		}
	}
	return false
}
