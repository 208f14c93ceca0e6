package rbac

// Simple default policy. Expand as needed.
var RolePermissions = map[string][]string{
	"taker": {
		"simulation:view",
		"session:create",
		"session:interact",
		"session:submit",
		"attempt:view-own",
	},
	"author": {
		"simulation:create",
		"simulation:view",
		"simulation:view-full",
		"simulation:list",
		"exhibit:upload",
		"attempt:view-all",
	},
	"admin": {
		"*", // everything
	},
}
