package processor

import (
	"fmt"
	"strings"

	"github.com/offlinefirst/stepcapture/pkg/coords"
	"github.com/offlinefirst/stepcapture/pkg/events"
	"github.com/offlinefirst/stepcapture/pkg/tutorial"
)

func clickVerb(stepType tutorial.StepType, button events.Button) string {
	var verb string
	switch button {
	case events.ButtonRight:
		verb = "Right click"
	case events.ButtonMiddle:
		verb = "Middle click"
	default:
		verb = "Click"
	}
	if stepType == tutorial.StepDoubleClick {
		if verb == "Click" {
			return "Double-click"
		}
		return "Double " + strings.ToLower(verb)
	}
	return verb
}

func describeClick(stepType tutorial.StepType, button events.Button, label string, info coords.Info) string {
	verb := clickVerb(stepType, button)
	if label != "" {
		return fmt.Sprintf("%s on %q", verb, label)
	}
	return fmt.Sprintf("%s at (%.1f%%, %.1f%%)", verb, info.PercentX, info.PercentY)
}

func describeText(text string) string {
	return fmt.Sprintf("Type %q", text)
}

func describeKey(label string) string {
	return "Press " + label
}
