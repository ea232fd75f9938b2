package bot

import (
	"testing"

	"github.com/bwmarrin/discordgo"
)

func commandInteraction(name string, opts ...*discordgo.ApplicationCommandInteractionDataOption) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Type: discordgo.InteractionApplicationCommand,
			Data: discordgo.ApplicationCommandInteractionData{
				Name:    name,
				Options: opts,
			},
		},
	}
}

func TestRouter_DispatchesTopLevelCommand(t *testing.T) {
	t.Parallel()

	r := NewCommandRouter()
	called := 0
	r.RegisterCommand("leave", &discordgo.ApplicationCommand{Name: "leave"},
		func(*discordgo.Session, *discordgo.InteractionCreate) { called++ })

	r.Handle(nil, commandInteraction("leave"))
	if called != 1 {
		t.Errorf("handler called %d times, want 1", called)
	}
}

func TestRouter_DispatchesSubcommand(t *testing.T) {
	t.Parallel()

	r := NewCommandRouter()
	var got string
	r.RegisterCommand("watch", &discordgo.ApplicationCommand{Name: "watch"},
		func(*discordgo.Session, *discordgo.InteractionCreate) { got = "watch" })
	r.RegisterHandler("watch/start", func(*discordgo.Session, *discordgo.InteractionCreate) { got = "watch/start" })

	r.Handle(nil, commandInteraction("watch", &discordgo.ApplicationCommandInteractionDataOption{
		Name: "start",
		Type: discordgo.ApplicationCommandOptionSubCommand,
	}))
	if got != "watch/start" {
		t.Errorf("dispatched %q, want watch/start", got)
	}
}

func TestRouter_IgnoresNonCommandInteractions(t *testing.T) {
	t.Parallel()

	r := NewCommandRouter()
	called := false
	r.RegisterCommand("join", &discordgo.ApplicationCommand{Name: "join"},
		func(*discordgo.Session, *discordgo.InteractionCreate) { called = true })

	r.Handle(nil, &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{Type: discordgo.InteractionPing},
	})
	if called {
		t.Error("ping interaction should not dispatch a command handler")
	}
}

func TestRouter_ApplicationCommandsDeduplicated(t *testing.T) {
	t.Parallel()

	r := NewCommandRouter()
	noop := func(*discordgo.Session, *discordgo.InteractionCreate) {}
	r.RegisterCommand("watch", &discordgo.ApplicationCommand{Name: "watch"}, noop)
	r.RegisterHandler("watch/start", noop)
	r.RegisterHandler("watch/stop", noop)
	r.RegisterCommand("join", &discordgo.ApplicationCommand{Name: "join"}, noop)

	cmds := r.ApplicationCommands()
	if len(cmds) != 2 {
		names := make([]string, 0, len(cmds))
		for _, c := range cmds {
			names = append(names, c.Name)
		}
		t.Errorf("definitions = %v, want exactly watch and join", names)
	}
}
