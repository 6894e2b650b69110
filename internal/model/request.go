package model

type LoginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type RegisterRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	PhoneNum  string `json:"phone_num"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}
