package reflection

import "fmt"

const DefaultSystemPrompt = `You are a helpful AI assistant. When answering questions, think carefully and break down your reasoning step by step.`

const DefaultCoTPrompt = `You are an AI assistant that uses a Chain of Thought (CoT) approach with reflection to answer queries. Follow these steps:

    1. Think through the problem step by step within the <thinking> tags.
    2. Reflect on your thinking to check for any errors or improvements within the <reflection> tags.
    3. Make any necessary adjustments based on your reflection.
    4. Provide your final, concise answer within the <output> tags, taking into account your thinking and reflection.

    Important: The <thinking> and <reflection> sections are for your internal reasoning process.
    The actual response to the query must be contained within the <output> tags, but should be informed by your thinking and reflection.

    Use the following format for your response:
    <thinking>
    [Your step-by-step reasoning goes here.]
    </thinking>
    <reflection>
    [Your reflection on your reasoning, checking for errors or improvements]
    </reflection>
    <output>
    [Your final, concise answer to the query, informed by your thinking and reflection. This is the part that will be shown to the user.]
    </output>
`

// Display placeholders for sections a run left empty.
const (
	NoInitialResponse = "No initial response provided."
	NoThinking        = "No thinking process provided."
	NoReflection      = "No reflection process provided."
	NoFinalOutput     = "No final output provided."
)

func documentBlock(document string) string {
	if document == "" {
		return ""
	}
	return fmt.Sprintf("Document Content:\n%s\n\n", document)
}

func ThinkingPrompt(system, cot, question, document string) string {
	return fmt.Sprintf("%s\n\n%s%s\n\nQuestion: %s\n\nThinking:", system, documentBlock(document), cot, question)
}

func ReflectionPrompt(system, thinking string) string {
	return fmt.Sprintf("%s\n\nInitial thinking: %s\n\nReflect on this thinking process. "+
		"What are the key assumptions? Are there any logical gaps or potential biases? "+
		"How can the reasoning be improved?", system, thinking)
}

func FinalPrompt(system, question, thinking, reflection string) string {
	return fmt.Sprintf("%s\n\nQuestion: %s\n\nInitial thinking: %s\n\nReflection: %s\n\n"+
		"Based on this reflection, provide an improved final answer:", system, question, thinking, reflection)
}

// FallbackPrompt asks for the final answer again when the output stage came
// back blank. Unlike the stage prompts it carries no system prompt.
func FallbackPrompt(question, thinking, reflection string) string {
	return fmt.Sprintf("Based on the following thinking and reflection, provide a concise final answer "+
		"to the question: \"%s\"\n\nThinking:\n%s\n\nReflection:\n%s\n\nFinal answer:", question, thinking, reflection)
}

// InitialResponsePrompt builds the no-reasoning baseline shown next to the
// reflected answer.
func InitialResponsePrompt(system, question, document string) string {
	return fmt.Sprintf("%s\n\n%sQuestion: %s\n\nProvide a concise answer to this question "+
		"without any explanation or reasoning.", system, documentBlock(document), question)
}
