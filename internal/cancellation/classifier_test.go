package cancellation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hackgods/clinic-scheduling/internal/reminder"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		text  string
		stage reminder.Stage
		want  Intent
	}{
		{"CANCEL", reminder.StageTwoHour, IntentCancel},
		{"Please cancel my appointment, I'm sick", "", IntentCancel},
		{"I can't make it tomorrow", reminder.StageDayBefore, IntentCancel},
		{"yes but I need to cancel", reminder.StageTwoHour, IntentCancel},
		{"Cancelled", "", IntentCancel},
		{"CONFIRM", reminder.StageTwoHour, IntentConfirm},
		{"Confirmed, see you then", "", IntentConfirm},
		{"I’ll be there", "", IntentConfirm},
		{"Yes", reminder.StageTwoHour, IntentConfirm},
		{"yes", reminder.StageImmediate, IntentConfirm},
		{"YES", reminder.StageDayBefore, IntentFormsDone},
		{"forms are done", reminder.StageTwoHour, IntentFormsDone},
		{"I completed the intake forms", "", IntentFormsDone},
		{"RESCHEDULE", reminder.StageTwoHour, IntentReschedule},
		{"can we do a different time?", "", IntentReschedule},
		{"", "", IntentUnknown},
		{"what is the parking situation", reminder.StageTwoHour, IntentUnknown},
		{"no", reminder.StageDayBefore, IntentFormsMissing},
		{"Not yet, sorry", reminder.StageDayBefore, IntentFormsMissing},
		{"no", reminder.StageTwoHour, IntentUnknown},
		{"I haven't filled out the forms", reminder.StageTwoHour, IntentFormsMissing},
		{"forms are not done yet", "", IntentFormsMissing},
		{"can you resend the intake forms?", "", IntentFormsMissing},
		{"no, I'll be there", reminder.StageTwoHour, IntentConfirm},
		{"yesterday was fine", reminder.StageTwoHour, IntentUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.text, tt.stage))
		})
	}
}
