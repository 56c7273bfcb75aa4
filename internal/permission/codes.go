package permission

// Codes declared by the embedded catalog that the server gates on directly.
const (
	ProductsView Code = 100

	UsersView        Code = 500
	UsersEdit        Code = 502
	UsersPermissions Code = 504

	RolesView Code = 600
	RolesEdit Code = 601

	PermissionsView Code = 700

	AuditView Code = 800
	JobsView  Code = 801
)
