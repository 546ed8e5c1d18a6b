package service

import (
	"errors"

	"github.com/ifuryst/autopost/internal/repository"
)

func isDuplicate(err error) bool {
	return errors.Is(err, repository.ErrDuplicate)
}

func seedTemplates() []CreateTemplateInput {
	return []CreateTemplateInput{
		{
			Name: "Event Announcement",
			Content: `🎉 Exciting News! 🎉

We're thrilled to announce {{eventName}}!

📅 Date: {{date}}
📍 Location: {{location}}
🎟️ Register: {{registrationLink}}

Join us for an unforgettable experience! Don't miss out on this opportunity to {{eventDescription}}.

#Event #{{eventHashtag}} #Networking #Community`,
			Description:  "Perfect for announcing upcoming events",
			Category:     "event",
			Placeholders: []string{"eventName", "date", "location", "registrationLink", "eventDescription", "eventHashtag"},
		},
		{
			Name: "Product Launch",
			Content: `🚀 Introducing {{productName}}! 🚀

We're excited to launch our latest innovation designed to {{productBenefit}}.

✨ Key Features:
• {{feature1}}
• {{feature2}}
• {{feature3}}

Available now at {{productLink}}

#ProductLaunch #Innovation #{{productCategory}}`,
			Description:  "Announce new product launches",
			Category:     "announcement",
			Placeholders: []string{"productName", "productBenefit", "feature1", "feature2", "feature3", "productLink", "productCategory"},
		},
		{
			Name: "Team Achievement",
			Content: `🏆 Celebrating Success! 🏆

Huge congratulations to {{teamName}} for {{achievement}}!

This milestone wouldn't have been possible without the dedication and hard work of our amazing team.

{{additionalDetails}}

#TeamWork #Success #Milestone #{{companyName}}`,
			Description:  "Celebrate team achievements and milestones",
			Category:     "announcement",
			Placeholders: []string{"teamName", "achievement", "additionalDetails", "companyName"},
		},
		{
			Name: "Limited Offer",
			Content: `⏰ Limited Time Offer! ⏰

Get {{discountAmount}} off on {{productOrService}}!

Offer valid until {{expiryDate}}

Don't miss out! Use code: {{promoCode}}

Shop now: {{shopLink}}

#Sale #LimitedOffer #Discount #{{category}}`,
			Description:  "Promote limited-time offers and sales",
			Category:     "promotion",
			Placeholders: []string{"discountAmount", "productOrService", "expiryDate", "promoCode", "shopLink", "category"},
		},
		{
			Name: "Thought Leadership",
			Content: `💡 {{thoughtTitle}}

{{mainContent}}

What are your thoughts on this? Share your perspective in the comments!

#ThoughtLeadership #{{industry}} #{{topic}}`,
			Description:  "Share insights and thought leadership content",
			Category:     "general",
			Placeholders: []string{"thoughtTitle", "mainContent", "industry", "topic"},
		},
	}
}
