package cancellation

import (
	"regexp"
	"strings"

	"github.com/hackgods/clinic-scheduling/internal/reminder"
)

type Intent string

const (
	IntentConfirm      Intent = "CONFIRM"
	IntentCancel       Intent = "CANCEL"
	IntentFormsDone    Intent = "FORMS_DONE"
	IntentFormsMissing Intent = "FORMS_MISSING"
	IntentReschedule   Intent = "RESCHEDULE"
	IntentUnknown      Intent = "UNKNOWN"
)

var (
	cancelRe     = regexp.MustCompile(`\b(cancel|cancell?ed|cancell?ing|cancellation|can'?t make it|cannot make it|won'?t make it|not coming)\b`)
	rescheduleRe = regexp.MustCompile(`\b(re-?schedul\w*|different time|another time|change (the|my) (time|appointment)|move (the|my) appointment)\b`)
	missingRe    = regexp.MustCompile(`\b(forms? (are |is )?not (yet )?(done|complete[d]?|filled|finished|ready)|(haven'?t|have not|didn'?t|did not|not yet) (done|complete[d]?|fill(ed)? out|filled|submitted|finished|received|gotten|got) (the |my |any )?(intake )?forms?|(resend|send me|need) (the |my )?(intake )?forms?)\b`)
	formsRe      = regexp.MustCompile(`\b(forms?\b.*\b(done|complete[d]?|filled|submitted|finished)|(completed|filled( out)?|submitted|finished) (the |my )?(intake )?forms?)\b`)
	confirmRe    = regexp.MustCompile(`\b(confirm\w*|i'?ll be there|i will be there|see you)\b`)
	affirmRe     = regexp.MustCompile(`^(yes|y|yeah|yep|yup|ok|okay|sure)\b`)
	negateRe     = regexp.MustCompile(`^(no|n|nope|nah|not yet)\b`)
)

// Classify maps a free-text reply to an intent. Cancel wins over everything
// else. After the day-before reminder asks about intake forms, a bare "yes"
// means forms done and a bare "no" means forms missing; otherwise "yes" is a
// confirmation.
func Classify(text string, lastStage reminder.Stage) Intent {
	t := normalize(text)
	if t == "" {
		return IntentUnknown
	}
	switch {
	case cancelRe.MatchString(t):
		return IntentCancel
	case rescheduleRe.MatchString(t):
		return IntentReschedule
	case missingRe.MatchString(t):
		return IntentFormsMissing
	case formsRe.MatchString(t):
		return IntentFormsDone
	case confirmRe.MatchString(t):
		return IntentConfirm
	case affirmRe.MatchString(t):
		if lastStage == reminder.StageDayBefore {
			return IntentFormsDone
		}
		return IntentConfirm
	case negateRe.MatchString(t) && lastStage == reminder.StageDayBefore:
		return IntentFormsMissing
	}
	return IntentUnknown
}

func normalize(text string) string {
	t := strings.ToLower(text)
	t = strings.NewReplacer("’", "'", "‘", "'").Replace(t)
	return strings.Join(strings.Fields(t), " ")
}
