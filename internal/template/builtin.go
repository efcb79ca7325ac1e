package template

import "time"

// Builtin returns the demo templates shipped with the binary.
func Builtin() []Template {
	mathPublished := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	englishPublished := time.Date(2025, 5, 15, 0, 0, 0, 0, time.UTC)
	return []Template{
		{
			ID:          "math-2025",
			Name:        "Mathematics written exam",
			Version:     "1.2",
			PublishedAt: &mathPublished,
			Nodes: []ProcessNode{
				{Name: "candidate-entry", Offset: -30, WarnTime: 5, Description: "Count candidates and check IDs", Tips: "Check IDs, assign seats"},
				{Name: "distribute-papers", Offset: 0, Description: "Hand out papers and answer sheets", Tips: "Check seals and counts"},
				{Name: "read-rules", Offset: 5, Description: "Read the exam rules aloud", Tips: "Speak clearly, stress key points"},
				{Name: "exam-start", Offset: 15, Description: "Candidates begin answering", Tips: "Announce time, phones off"},
				{Name: "collection-warning", Offset: 105, WarnTime: 5, Description: "Prepare to collect papers", Tips: "Announce remaining time"},
				{Name: "collect-papers", Offset: 110, Description: "Collect all papers", Tips: "Count and verify papers"},
			},
		},
		{
			ID:          "english-2025",
			Name:        "English listening exam",
			Version:     "1.0",
			PublishedAt: &englishPublished,
			Nodes: []ProcessNode{
				{Name: "equipment-check", Offset: -15, WarnTime: 5, Description: "Check listening equipment", Tips: "Check devices and frequency"},
				{Name: "sound-test", Offset: -5, Description: "Sound test", Tips: "Confirm clear audio"},
				{Name: "listening-start", Offset: 0, Description: "Start playback", Tips: "Watch volume and time"},
				{Name: "listening-end", Offset: 25, Description: "Listening section ends", Tips: "Tidy equipment, count materials"},
			},
		},
	}
}
