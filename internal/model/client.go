// internal/model/client.go
package model

// MailCredentials describe a client's outbound mailbox. The password is
// stored encrypted and only decrypted for the duration of a session.
type MailCredentials struct {
	Host              string `json:"host"`
	Port              int    `json:"port"`
	Username          string `json:"username"`
	PasswordEncrypted string `json:"password_encrypted"`
	Security          string `json:"security"` // ssl, starttls, none
	FromName          string `json:"from_name"`
	FromEmail         string `json:"from_email"`
}

type Client struct {
	ID            string           `json:"id"`
	CompanyName   string           `json:"company_name"`
	FounderName   string           `json:"founder_name"`
	FounderEmail  string           `json:"founder_email"`
	Industry      string           `json:"industry"`
	FundingStage  string           `json:"funding_stage"`
	City          string           `json:"city"`
	InvestmentAsk string           `json:"investment_ask"`
	Mail          *MailCredentials `json:"mail,omitempty"`
}

const (
	ContactInvestor  = "investor"
	ContactIncubator = "incubator"
)

// Candidate is an investor or incubator record eligible for matching.
type Candidate struct {
	ID               string   `json:"id"`
	Type             string   `json:"type"`
	Name             string   `json:"name"`
	Email            string   `json:"email"`
	Organization     string   `json:"organization"`
	SectorFocus      []string `json:"sector_focus"`
	InvestmentStages []string `json:"investment_stages"`
	AcceptedStages   []string `json:"accepted_stages"`
	Locations        []string `json:"locations"`
	TicketSizeMin    string   `json:"ticket_size_min"`
	TicketSizeMax    string   `json:"ticket_size_max"`
}
