package service

import "fmt"

// CharacterKind selects which character prompt to send
type CharacterKind string

const (
	Realistic CharacterKind = "realistic"
	Fantasy   CharacterKind = "fantasy"
)

const imageStylePrefix = "Hyper realistic picture. "

const realisticCharacterPrompt = `
    Instruction:
    - Generate a name and a description for a realistic character.
    - The description should be in bullet-points.
    - The description should describe the physical attributes, the personality, the background story, speech and behavioural patterns, and the conversation style of the character.
    - Output the name and the description in the following format: "Name: NAME HERE | Description: DESCRIPTION HERE"
    - Do not output any other text.
    `

const fantasyCharacterPrompt = `
    Instruction:
    - Generate a name and a description for a popular, mainstream fantasy character.
    - The description should be in bullet-points.
    - The description should describe the physical attributes, the personality, the background story, speech and behavioural patterns, and the conversation style of the character.
    - Output the name and the description in the following format: "Name: NAME HERE | Description: DESCRIPTION HERE"
    - Do not output any other text.
    `

func imageSummaryPrompt(description string) string {
	return fmt.Sprintf("Create a short prompt for DALL-E using the following description. Make sure to keep the prompt below 10 words: %s", description)
}

func characterPrompt(kind CharacterKind) (string, bool) {
	switch kind {
	case Realistic:
		return realisticCharacterPrompt, true
	case Fantasy:
		return fantasyCharacterPrompt, true
	}
	return "", false
}
