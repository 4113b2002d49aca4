// Package model содержит доменные сущности сервиса билетов и розыгрышей.
package model

import "time"

// Role описывает роль пользователя на площадке.
type Role string

const (
	RoleParticipant Role = "participant"
	RoleHost        Role = "host"
	RoleAdmin       Role = "admin"
)

// KYCStatus описывает статус проверки личности пользователя.
type KYCStatus string

const (
	KYCNone     KYCStatus = "none"
	KYCPending  KYCStatus = "pending"
	KYCVerified KYCStatus = "verified"
	KYCRejected KYCStatus = "rejected"
)

// User представляет зарегистрированного пользователя.
// TicketsBalance является проекцией журнала и изменяется только через журнал.
type User struct {
	ID             int64
	Login          string
	PasswordHash   []byte
	Role           Role
	KYCStatus      KYCStatus
	TicketsBalance int64
	CreatedAt      time.Time
}

// CanHost сообщает, может ли пользователь проводить розыгрыши.
func (u *User) CanHost() bool {
	return (u.Role == RoleHost || u.Role == RoleAdmin) && u.KYCStatus == KYCVerified
}

// Balance содержит текущий баланс билетов и сумму всех трат.
type Balance struct {
	Current int64 `json:"current"`
	Spent   int64 `json:"spent"`
}

// Reconciliation описывает результат сверки кэшированного баланса с журналом.
type Reconciliation struct {
	UserID    int64 `json:"user_id"`
	Cached    int64 `json:"cached"`
	LedgerSum int64 `json:"ledger_sum"`
	Repaired  bool  `json:"repaired"`
}
