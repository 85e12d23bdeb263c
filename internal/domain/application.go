package domain

import "time"

// Application is a deployable product owned by a tenant.
type Application struct {
	ID         int64     `json:"id"`
	TenantID   int64     `json:"tenant_id"`
	Name       string    `json:"name"`
	CreatedBy  int64     `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Version is a releasable build of an application.
type Version struct {
	ID            int64     `json:"id"`
	TenantID      int64     `json:"tenant_id"`
	ApplicationID int64     `json:"application_id"`
	Number        string    `json:"version_number"`
	CreatedBy     int64     `json:"created_by"`
	CreatedAt     time.Time `json:"created_at"`
	ModifiedAt    time.Time `json:"modified_at"`
}
