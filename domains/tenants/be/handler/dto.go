package handler

import (
	"time"

	"github.com/clinichub/clinic-api/domains/tenants/be/service"
	"github.com/clinichub/clinic-api/platform/go/persistence"
)

type tenantResponse struct {
	ID                   string         `json:"id"`
	Name                 string         `json:"name"`
	Address              *string        `json:"address"`
	Logo                 *string        `json:"logo"`
	RxImg                *string        `json:"rx_img"`
	WhatsappTemplateSID  *string        `json:"whatsapp_template_sid"`
	WhatsappPhone        *string        `json:"whatsapp_phone"`
	APIWhatsapp          *string        `json:"api_whatsapp"`
	WhatsappMessageCount int            `json:"whatsapp_message_count"`
	ShowImageCase        bool           `json:"show_image_case"`
	TeethV2              bool           `json:"teeth_v2"`
	SendMsg              bool           `json:"send_msg"`
	ShowRxID             bool           `json:"show_rx_id"`
	DoctorMony           float64        `json:"doctor_mony"`
	Data                 map[string]any `json:"data"`
	DBName               string         `json:"db_name"`
	DBUsername           string         `json:"db_username,omitempty"`
	ProvisioningState    string         `json:"provisioning_state"`
	ProvisioningError    *string        `json:"provisioning_error,omitempty"`
	ProvisionedAt        *time.Time     `json:"provisioned_at,omitempty"`
	Domains              []string       `json:"domains,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// toTenantResponse never exposes the database password.
func toTenantResponse(t service.Tenant) tenantResponse {
	return tenantResponse{
		ID:                   t.ID,
		Name:                 t.Name,
		Address:              t.Settings.Address,
		Logo:                 t.Settings.Logo,
		RxImg:                t.Settings.RxImg,
		WhatsappTemplateSID:  t.Settings.WhatsappTemplateSID,
		WhatsappPhone:        t.Settings.WhatsappPhone,
		APIWhatsapp:          t.Settings.APIWhatsapp,
		WhatsappMessageCount: t.Settings.WhatsappMessageCount,
		ShowImageCase:        t.Settings.ShowImageCase,
		TeethV2:              t.Settings.TeethV2,
		SendMsg:              t.Settings.SendMsg,
		ShowRxID:             t.Settings.ShowRxID,
		DoctorMony:           t.Settings.DoctorMony,
		Data:                 t.Data,
		DBName:               t.DBName,
		DBUsername:           t.DBUsername,
		ProvisioningState:    string(t.State),
		ProvisioningError:    t.LastError,
		ProvisionedAt:        t.ProvisionedAt,
		Domains:              t.Domains,
		CreatedAt:            t.CreatedAt,
		UpdatedAt:            t.UpdatedAt,
	}
}

type listResponse struct {
	Items      []tenantResponse `json:"items"`
	Page       int              `json:"page"`
	PageSize   int              `json:"page_size"`
	TotalItems int              `json:"total_items"`
	TotalPages int              `json:"total_pages"`
}

type createRequest struct {
	ID                   string         `json:"id"`
	Name                 string         `json:"name"`
	Domains              []string       `json:"domains"`
	DBName               string         `json:"db_name"`
	DBUsername           string         `json:"db_username"`
	DBPassword           string         `json:"db_password"`
	Address              *string        `json:"address"`
	RxImg                *string        `json:"rx_img"`
	WhatsappTemplateSID  *string        `json:"whatsapp_template_sid"`
	WhatsappPhone        *string        `json:"whatsapp_phone"`
	APIWhatsapp          *string        `json:"api_whatsapp"`
	WhatsappMessageCount int            `json:"whatsapp_message_count"`
	ShowImageCase        bool           `json:"show_image_case"`
	TeethV2              bool           `json:"teeth_v2"`
	SendMsg              bool           `json:"send_msg"`
	ShowRxID             bool           `json:"show_rx_id"`
	DoctorMony           float64        `json:"doctor_mony"`
	Data                 map[string]any `json:"data"`
	Owner                *ownerRequest  `json:"owner"`
}

type ownerRequest struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (c createRequest) toInput() service.CreateInput {
	var owner *persistence.ClinicOwner
	if c.Owner != nil {
		owner = &persistence.ClinicOwner{Name: c.Owner.Name, Phone: c.Owner.Phone, Email: c.Owner.Email, Password: c.Owner.Password}
	}
	return service.CreateInput{
		Owner:      owner,
		ID:         c.ID,
		Name:       c.Name,
		Domains:    c.Domains,
		DBName:     c.DBName,
		DBUsername: c.DBUsername,
		DBPassword: c.DBPassword,
		Data:       c.Data,
		Settings: service.Settings{
			Address:              c.Address,
			RxImg:                c.RxImg,
			WhatsappTemplateSID:  c.WhatsappTemplateSID,
			WhatsappPhone:        c.WhatsappPhone,
			APIWhatsapp:          c.APIWhatsapp,
			WhatsappMessageCount: c.WhatsappMessageCount,
			ShowImageCase:        c.ShowImageCase,
			TeethV2:              c.TeethV2,
			SendMsg:              c.SendMsg,
			ShowRxID:             c.ShowRxID,
			DoctorMony:           c.DoctorMony,
		},
	}
}

type updateRequest struct {
	Name                 *string        `json:"name"`
	Address              *string        `json:"address"`
	RxImg                *string        `json:"rx_img"`
	WhatsappTemplateSID  *string        `json:"whatsapp_template_sid"`
	WhatsappPhone        *string        `json:"whatsapp_phone"`
	APIWhatsapp          *string        `json:"api_whatsapp"`
	WhatsappMessageCount *int           `json:"whatsapp_message_count"`
	ShowImageCase        *bool          `json:"show_image_case"`
	TeethV2              *bool          `json:"teeth_v2"`
	SendMsg              *bool          `json:"send_msg"`
	ShowRxID             *bool          `json:"show_rx_id"`
	DoctorMony           *float64       `json:"doctor_mony"`
	Data                 map[string]any `json:"data"`
}

func (u updateRequest) toInput() service.UpdateInput {
	return service.UpdateInput(u)
}

type previewResponse struct {
	ID            string `json:"id"`
	DatabaseName  string `json:"db_name"`
	IDTaken       bool   `json:"id_taken"`
	DatabaseTaken bool   `json:"db_name_taken"`
}

type deleteResponse struct {
	RecordRemoved   bool   `json:"record_removed"`
	DatabaseDropped bool   `json:"database_dropped"`
	DropError       string `json:"drop_error,omitempty"`
}

type migrationResponse struct {
	Version   int64  `json:"version"`
	Source    string `json:"source"`
	Direction string `json:"direction"`
}

type migrateResponse struct {
	TenantID string              `json:"tenant_id"`
	Applied  []migrationResponse `json:"applied"`
}

func toMigrateResponse(id string, applied []persistence.AppliedMigration) migrateResponse {
	out := migrateResponse{TenantID: id, Applied: make([]migrationResponse, 0, len(applied))}
	for _, m := range applied {
		out.Applied = append(out.Applied, migrationResponse{Version: m.Version, Source: m.Source, Direction: m.Direction})
	}
	return out
}

type seedResponse struct {
	TenantID        string `json:"tenant_id"`
	Permissions     int64  `json:"permissions"`
	Roles           int64  `json:"roles"`
	RolePermissions int64  `json:"role_permissions"`
	Statuses        int64  `json:"statuses"`
	Categories      int64  `json:"categories"`
}

type domainRequest struct {
	Domain string `json:"domain"`
}

type domainResponse struct {
	Domain    string    `json:"domain"`
	TenantID  string    `json:"tenant_id"`
	CreatedAt time.Time `json:"created_at"`
}

type contextResponse struct {
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`
	Message  string `json:"message"`
}
