package models

// SeedBriefs is served when the briefs table cannot be reached.
func SeedBriefs() []Brief {
	return []Brief{
		{
			ID:          "brief-1",
			Title:       "High-Energy Trailer Cue",
			ClientName:  "Major Studio (Confidential)",
			Budget:      "$5,000 - $15,000",
			Genre:       "Cinematic",
			Deadline:    "Urgent",
			Description: "Epic hybrid orchestral build for a blockbuster teaser. Needs a big rise and a hard stop.",
			Tags:        []string{"Epic", "Trailer", "Hybrid", "Orchestral"},
		},
		{
			ID:          "brief-2",
			Title:       "Indie Folk for Coffee Commercial",
			ClientName:  "Bean & Co.",
			Budget:      "$2,500",
			Genre:       "Folk",
			Deadline:    "5 Days Left",
			Description: "Warm acoustic track with a hopeful feel. Handclaps and whistling welcome.",
			Tags:        []string{"Acoustic", "Uplifting", "Warm"},
		},
		{
			ID:          "brief-3",
			Title:       "Dark Synthwave for Streaming Series",
			ClientName:  "Neon Pictures",
			Budget:      "$8,000",
			Genre:       "Electronic",
			Deadline:    "12 Days Left",
			Description: "Brooding retro synths for a chase scene. Think late-night city drive.",
			Tags:        []string{"Synthwave", "Dark", "Retro", "Tension"},
		},
		{
			ID:          "brief-4",
			Title:       "Lo-Fi Hip Hop for Game Menu",
			ClientName:  "Pixel Forge",
			Budget:      "$1,200",
			Genre:       "Hip Hop",
			Deadline:    "3 Weeks Left",
			Description: "Loopable chill beat for a cozy farming game menu screen.",
			Tags:        []string{"Lo-Fi", "Chill", "Loop"},
		},
	}
}

// SeedDirectory is the static agency and supervisor directory.
func SeedDirectory() []Agency {
	return []Agency{
		{
			ID:               "agency-1",
			Name:             "Lumen Sync",
			Type:             AgencyTypeAgency,
			Location:         "Los Angeles, CA",
			ContactEmail:     "submissions@lumensync.example",
			Website:          "https://lumensync.example",
			Credits:          []string{"Stranger Skies (S2)", "Apex Motors campaign"},
			Description:      "Boutique sync agency focused on indie and alt artists.",
			SubmissionPolicy: "Private streaming links only. No attachments.",
		},
		{
			ID:               "agency-2",
			Name:             "Harbor Music Library",
			Type:             AgencyTypeLibrary,
			Location:         "London, UK",
			ContactEmail:     "a&r@harborlibrary.example",
			Website:          "https://harborlibrary.example",
			Credits:          []string{"BBC documentary series", "Premier football idents"},
			Description:      "Production library specialising in broadcast and documentary.",
			SubmissionPolicy: "Instrumental stems required. Non-exclusive deals only.",
		},
		{
			ID:               "agency-3",
			Name:             "Dana Ortiz",
			Type:             AgencyTypeSupervisor,
			Location:         "New York, NY",
			ContactEmail:     "dana@ortizmusic.example",
			Website:          "https://ortizmusic.example",
			Credits:          []string{"Night Desk (feature)", "Velvet Season (S1-S3)"},
			Description:      "Independent music supervisor for film and prestige TV.",
			SubmissionPolicy: "Open for briefs only. Unsolicited material is not reviewed.",
			Socials:          Socials{Instagram: "https://instagram.com/ortizmusic"},
		},
	}
}
