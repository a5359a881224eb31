package steamspy

// AppDetail is the subset of an appdetails response the client inspects
// before persisting. The full response body is stored verbatim.
type AppDetail struct {
	AppID     int    `json:"appid"`
	Name      string `json:"name"`
	Developer string `json:"developer"`
	Publisher string `json:"publisher"`
	Owners    string `json:"owners"`
}
