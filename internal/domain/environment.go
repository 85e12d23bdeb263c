package domain

import "time"

// Environment is a deployment target such as dev, staging or production.
// Order defines the promotion sequence: lower orders promote to higher ones.
type Environment struct {
	ID         int64     `json:"id"`
	TenantID   int64     `json:"tenant_id"`
	Name       string    `json:"name"`
	Order      int       `json:"order"`
	CreatedBy  int64     `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
}
