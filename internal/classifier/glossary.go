package classifier

import "strings"

// Glossary maps single rules keywords to a short canned definition. Only terms
// listed here can classify as simple_definition.
var Glossary = map[string]string{
	"trample":        "Trample lets an attacking creature assign combat damage beyond what is lethal to its blockers to the player or planeswalker it is attacking.",
	"haste":          "Haste lets a creature attack and use tap abilities the turn it comes under your control.",
	"ward":           "Ward counters any spell or ability an opponent controls that targets this permanent unless that player pays the ward cost.",
	"vigilance":      "Vigilance means attacking does not cause the creature to tap.",
	"lifelink":       "Damage dealt by a source with lifelink also causes its controller to gain that much life.",
	"menace":         "A creature with menace can't be blocked except by two or more creatures.",
	"reach":          "Reach lets a creature block creatures with flying.",
	"flying":         "A creature with flying can't be blocked except by creatures with flying or reach.",
	"first strike":   "A creature with first strike deals combat damage before creatures without first strike.",
	"double strike":  "A creature with double strike deals both first-strike and regular combat damage.",
	"deathtouch":     "Any amount of damage from a source with deathtouch is enough to destroy a creature.",
	"hexproof":       "A permanent with hexproof can't be the target of spells or abilities your opponents control.",
	"indestructible": "Indestructible permanents aren't destroyed by lethal damage or effects that say destroy.",
	"flash":          "Flash lets you cast a spell any time you could cast an instant.",
	"convoke":        "Convoke lets each creature you tap while casting the spell pay for {1} or one mana of that creature's color.",
	"flashback":      "Flashback lets you cast the card from your graveyard by paying its flashback cost, then exiles it.",
	"equip":          "Equip attaches an Equipment to target creature you control; activate only as a sorcery.",
	"commander tax":  "Each time you cast your commander from the command zone it costs {2} more for each previous time you cast it from there this game.",
	"command zone":   "The command zone is where your commander starts the game and where it can return instead of going to the graveyard or exile.",
	"the stack":      "The stack holds spells and abilities waiting to resolve; the last one added resolves first.",
	"stack":          "The stack holds spells and abilities waiting to resolve; the last one added resolves first.",
	"priority":       "Priority is the right to cast spells or activate abilities; the active player receives it first in each step.",
	"cmc":            "CMC (now called mana value) is the total amount of mana in a card's mana cost.",
	"mana value":     "Mana value is the total amount of mana in a card's mana cost, ignoring color.",
	"color identity": "A card's color identity is every color in its mana cost and rules text; your deck must match your commander's color identity.",
	"colorless mana": "Colorless mana is mana with no color, shown as {C}; generic costs can be paid with it but {C} costs require it.",
	"scry":           "Scry N: look at the top N cards of your library, then put any number on the bottom and the rest back on top in any order.",
	"mill":           "Mill N: put the top N cards of your library into your graveyard.",
	"proliferate":    "Proliferate: choose any number of permanents and players with counters, then give each another counter of each kind already there.",
}

// DefinitionFor returns the glossary entry for term.
func DefinitionFor(term string) (string, bool) {
	def, ok := Glossary[strings.ToLower(strings.TrimSpace(term))]
	return def, ok
}
