package verification

type RequestCodeRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

type ConfirmCodeRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
	Code  string `json:"code" validate:"required,len=6,numeric"`
}
