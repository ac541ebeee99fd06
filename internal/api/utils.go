package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"fleetbroker/pkg/problems"
	"fleetbroker/pkg/tenants"
)

func writeJSON(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		problems.Write(w, http.StatusBadRequest, "invalid-body", "Invalid request body", err.Error())
		return false
	}
	return true
}

// splitList accepts repeated and comma separated query values.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

type accountView struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	RoleARN       string    `json:"roleArn"`
	AWSRole       string    `json:"awsRole"`
	ActiveRegions []string  `json:"activeRegions"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func viewAccount(a tenants.Account) accountView {
	regions := a.ActiveRegions
	if regions == nil {
		regions = []string{}
	}
	return accountView{
		ID:            a.ID,
		Title:         a.Title,
		RoleARN:       a.RoleARN,
		AWSRole:       a.AWSRoleID,
		ActiveRegions: regions,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}
