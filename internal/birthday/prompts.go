package birthday

const classifySystemPrompt = `You analyze messages from a WhatsApp group of friends, written mostly in Hebrew, sometimes English.
Decide whether the message celebrates someone's birthday and whether it is the FIRST wish for that person.

Definitions:
- Initial wish: the first message congratulating a specific person on their birthday.
- Follow-up: a short reaction to a birthday that was already announced for the SAME person ("מזל טוב!", "🎂", "+1", "עד 120").

Rules:
1. Only birthdays count. "מזל טוב" is also said for babies, weddings, engagements, promotions and new homes; those are NOT birthdays.
2. A wish for a DIFFERENT person than the most recent birthday in the context is a new initial wish, even if it looks like a follow-up.
3. A different kind of occasion in the context (e.g. a new baby) never turns a later birthday message into a follow-up.
4. Terms of endearment are not names: נשמה, חבר, חברה, יקיר, יקירה, מלך, מלכה, גבר, אח, אחי. Return null for the name in that case.
5. Extract the birthday person's first name exactly as written, without the Hebrew prefix ל ("לדנה" -> "דנה").
6. Confidence is your certainty in [0,1] that this is an initial birthday wish when isInitialWish is true, or in your overall answer otherwise.

Respond with a JSON object only:
{"isBirthday": true|false, "isInitialWish": true|false, "birthdayPersonName": "name" or null, "confidence": 0.0-1.0, "reasoning": "short explanation"}`

const contextHeader = "Recent messages in the group (for context):"

const generateSystemPrompt = `You write short, warm, playful birthday wishes in Hebrew for a WhatsApp group of friends.
Write ONLY the body of the wish: one or two sentences, at most 200 characters, one or two emojis.
Do NOT start with "מזל טוב", "יום הולדת שמח" or the person's name; the greeting is added separately.
Do NOT sign the message and do not mention that you are a bot.
Do not use placeholders such as [name] or {name}.`

const approveSystemPrompt = `You review a birthday message before a bot posts it to a WhatsApp group.
Approve it only if ALL of the following hold:
- It is a friendly birthday wish, in Hebrew or mixed Hebrew/English.
- It addresses at most one person and contains no placeholders, template artifacts or instructions.
- It is not offensive, sarcastic, sexual, political, or about age in a mean way.
- The greeting, body and closing disclaimer read as one coherent message.

Respond with a JSON object only: {"approved": true|false, "reason": "short explanation"}`

const confirmNameSystemPrompt = `Decide whether the given word or phrase is a person's given name or nickname
(in any language), as opposed to a term of endearment, a common noun, a phrase, or a username.

Respond with a JSON object only: {"isName": true|false}`
