// Package notify tells the submitter that a job has finished.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/JonMunkholm/dedupe/internal/dedupe"
	"github.com/JonMunkholm/dedupe/internal/logging"
)

const (
	SuccessSubject = "Your de-duplicated file is ready"
	ErrorSubject   = "Something went wrong with the de-duplication process"
)

const projectURL = "https://www.github.com/VertNet/dedupe"

// Message is the outcome of one job addressed to its submitter.
type Message struct {
	Recipient string
	JobID     string
	Action    dedupe.Action
	Report    *dedupe.Report
	Err       error
}

// Success reports whether the job produced a report.
func (m Message) Success() bool { return m.Err == nil && m.Report != nil }

// Subject returns the email subject line.
func (m Message) Subject() string {
	if m.Success() {
		return SuccessSubject
	}
	return ErrorSubject
}

// Body renders the plain-text email body.
func (m Message) Body() string {
	var b strings.Builder
	b.WriteString("Hello,\n\n")

	if !m.Success() {
		b.WriteString("This is a notification email to inform you that something went wrong\n")
		b.WriteString("with the de-duplication of the file you sent (job " + m.JobID + ").\n\n")
		b.WriteString("This is the error the system reported:\n\n")
		if m.Err != nil {
			b.WriteString(m.Err.Error())
		} else {
			b.WriteString("no report was produced")
		}
		b.WriteString("\n\n")
		writeFooter(&b)
		return b.String()
	}

	if m.Report.FileURL != "" {
		b.WriteString("This is a notification email to inform you that the file you sent to the\n")
		b.WriteString("de-duplication API is ready and available for download here (link\n")
		b.WriteString("available for 24h):\n\n")
		b.WriteString(m.Report.FileURL)
		b.WriteString("\n")
	} else {
		b.WriteString("This is a notification email to inform you that the file you sent to the\n")
		b.WriteString("de-duplication API has been analysed.\n")
	}
	if explain := actionExplanation(m.Action); explain != "" {
		b.WriteString("\n")
		b.WriteString(explain)
	}

	b.WriteString("\nFinally, this is what the system has gathered from the de-duplication system:\n\n")
	pretty, err := json.MarshalIndent(m.Report, "", "    ")
	if err != nil {
		fmt.Fprintf(&b, "(report unavailable: %v)", err)
	} else {
		b.Write(pretty)
	}
	b.WriteString("\n\n")
	writeFooter(&b)
	return b.String()
}

func actionExplanation(a dedupe.Action) string {
	switch a {
	case dedupe.ActionFlag:
		return "Since you selected the \"flag\" option, the system has added three new fields to\n" +
			"the dataset you provided: isDuplicate (true or false), duplicateType (strict or\n" +
			"partial) and duplicateOf (the position of the first record it duplicates).\n"
	case dedupe.ActionRemove:
		return "Since you selected the \"remove\" option, the system has deleted the duplicate\n" +
			"rows, so you should see the dataset has now fewer records. Please check out the\n" +
			"report below to find more information about the removed records.\n"
	}
	return ""
}

func writeFooter(b *strings.Builder) {
	b.WriteString("You can find more information on the de-duplication system here:\n\n")
	b.WriteString(projectURL + "\n\n")
	b.WriteString("If you find any issue or complain, please report it here:\n\n")
	b.WriteString(projectURL + "/issues\n\n")
	b.WriteString("Thank you for using our services. Best wishes,\n")
}

// Notifier delivers job outcomes.
type Notifier interface {
	Notify(ctx context.Context, m Message) error
}

// LogNotifier writes notifications to the structured log instead of
// sending mail.
type LogNotifier struct {
	// IncludeBody logs the rendered body at debug level.
	IncludeBody bool
}

// Notify implements Notifier.
func (n LogNotifier) Notify(ctx context.Context, m Message) error {
	logger := logging.WithFields(ctx, "job_id", m.JobID, "recipient", m.Recipient)
	if m.Recipient == "" {
		logger.Debug("notification skipped, no recipient")
		return nil
	}
	logger.Info("notification", "subject", m.Subject(), "success", m.Success())
	if n.IncludeBody {
		logger.Debug("notification body", "body", m.Body())
	}
	return nil
}
