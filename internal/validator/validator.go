package validator

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Jamolkhon5/chatbot/internal/models"
)

var emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

const (
	MaxMessageLength = 2000
	MaxHistoryLength = 50
	MinMobileLength  = 10
)

// ValidateChatRequest checks the request at the boundary and normalizes the
// message. Returns a descriptive error for the client on failure.
func ValidateChatRequest(req *models.ChatRequest) error {
	req.Message = strings.TrimSpace(req.Message)

	if req.Message == "" {
		return fmt.Errorf("message cannot be empty")
	}
	if len(req.Message) > MaxMessageLength {
		return fmt.Errorf("message too long (max %d characters)", MaxMessageLength)
	}
	if len(req.History) > MaxHistoryLength {
		return fmt.Errorf("conversation history too long (max %d messages)", MaxHistoryLength)
	}
	for i, msg := range req.History {
		if !models.ValidRole(msg.Role) {
			return fmt.Errorf("history[%d]: role must be one of user, assistant, system", i)
		}
	}
	return nil
}

// ValidateContactEnquiry checks a contact-form submission.
func ValidateContactEnquiry(enq *models.ContactEnquiry) error {
	enq.Name = strings.TrimSpace(enq.Name)
	enq.Email = strings.TrimSpace(enq.Email)
	enq.Mobile = strings.TrimSpace(enq.Mobile)

	if enq.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !emailRegex.MatchString(enq.Email) {
		return fmt.Errorf("invalid email address")
	}
	if len(enq.Mobile) < MinMobileLength {
		return fmt.Errorf("mobile number too short (min %d characters)", MinMobileLength)
	}
	if strings.TrimSpace(enq.Requirement) == "" {
		return fmt.Errorf("requirement is required")
	}
	if strings.TrimSpace(enq.Message) == "" {
		return fmt.Errorf("message is required")
	}
	return nil
}
