package request

// RegisterRequest is the request body for registering a user
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Name     string `json:"name" validate:"max=64"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// LoginRequest is the request body for logging in
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// CreateRoomRequest is the request body for creating a room. A zero entry
// fee selects the default.
type CreateRoomRequest struct {
	EntryFee int64 `json:"entry_fee,omitempty" validate:"gte=0"`
}

// InviteUserRequest is the request body for inviting a user by id
type InviteUserRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

// InviteEmailRequest is the request body for inviting a user by email
type InviteEmailRequest struct {
	Email string `json:"email" validate:"required,email"`
}
