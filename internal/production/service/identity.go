package service

import "github.com/bitfantasy/nimo-mes/internal/middleware"

// Identity 调用方身份，每个操作显式传入
type Identity struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
}

// IsAdmin 管理员
func (i Identity) IsAdmin() bool {
	return i.Role == middleware.RoleAdmin
}

// IsSupervisor 主管及以上
func (i Identity) IsSupervisor() bool {
	return i.Role == middleware.RoleSupervisor || i.IsAdmin()
}

func (i Identity) validate() error {
	if i.UserID == "" {
		return errPermission("operator identity is required")
	}
	return nil
}

// HighestRole 从角色列表中取权限最高的角色
func HighestRole(roles []string) string {
	best := middleware.RoleWorker
	for _, r := range roles {
		switch r {
		case middleware.RoleAdmin:
			return middleware.RoleAdmin
		case middleware.RoleSupervisor:
			best = middleware.RoleSupervisor
		}
	}
	return best
}
