package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/chimebot/chime/internal/app"
	"github.com/chimebot/chime/internal/config"
)

// commandTimeout bounds the quick command handlers; joining a voice
// channel gets the longer joinTimeout because it includes the provider
// handshake.
const (
	commandTimeout = 5 * time.Second
	joinTimeout    = 35 * time.Second
)

// VoiceCommands holds the slash command handlers that drive the voice
// session lifecycle.
type VoiceCommands struct {
	app *app.App
	bot *Bot
}

// RegisterVoiceCommands wires the /join, /leave, /watch and /settings
// commands into the bot's router.
func RegisterVoiceCommands(b *Bot, a *app.App) *VoiceCommands {
	vc := &VoiceCommands{app: a, bot: b}
	vc.register(b.Router())
	return vc
}

func (vc *VoiceCommands) register(router *CommandRouter) {
	router.RegisterCommand("join", &discordgo.ApplicationCommand{
		Name:        "join",
		Description: "Join a voice channel and start listening",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:         discordgo.ApplicationCommandOptionChannel,
				Name:         "channel",
				Description:  "Voice channel to join (defaults to yours)",
				ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildVoice},
			},
		},
	}, vc.handleJoin)

	router.RegisterCommand("leave", &discordgo.ApplicationCommand{
		Name:        "leave",
		Description: "Leave the voice channel",
	}, vc.handleLeave)

	router.RegisterCommand("watch", &discordgo.ApplicationCommand{
		Name:        "watch",
		Description: "Stream watch commentary",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "start",
				Description: "Start watching a member's stream",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionUser,
						Name:        "streamer",
						Description: "Member whose stream to watch",
						Required:    true,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "stop",
				Description: "Stop watching the stream",
			},
		},
	}, func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		RespondEphemeral(s, i, "Use `/watch start` or `/watch stop`.")
	})
	router.RegisterHandler("watch/start", vc.handleWatchStart)
	router.RegisterHandler("watch/stop", vc.handleWatchStop)

	router.RegisterCommand("settings", &discordgo.ApplicationCommand{
		Name:        "settings",
		Description: "Voice behaviour settings",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "show",
				Description: "Show the current settings",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "eagerness",
				Description: "Set how readily the bot joins unaddressed talk",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionInteger,
						Name:        "value",
						Description: "0 (direct address only) to 100",
						Required:    true,
						MinValue:    ptr(0.0),
						MaxValue:    100,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "classifier",
				Description: "Toggle the turn-admission classifier",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionBoolean,
						Name:        "enabled",
						Description: "Whether the classifier gates replies",
						Required:    true,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "commentary",
				Description: "Toggle autonomous stream commentary",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionBoolean,
						Name:        "enabled",
						Description: "Whether the bot comments on watched streams",
						Required:    true,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "name",
				Description: "Set the name the bot answers to",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "value",
						Description: "New bot name",
						Required:    true,
					},
				},
			},
		},
	}, func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		RespondEphemeral(s, i, "Use a `/settings` subcommand.")
	})
	router.RegisterHandler("settings/show", vc.handleSettingsShow)
	router.RegisterHandler("settings/eagerness", vc.handleSettingsEagerness)
	router.RegisterHandler("settings/classifier", vc.handleSettingsClassifier)
	router.RegisterHandler("settings/commentary", vc.handleSettingsCommentary)
	router.RegisterHandler("settings/name", vc.handleSettingsName)
}

func (vc *VoiceCommands) handleJoin(s *discordgo.Session, i *discordgo.InteractionCreate) {
	channelID := ""
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == "channel" {
			channelID = opt.ChannelValue(nil).ID
		}
	}
	if channelID == "" {
		vs, err := s.State.VoiceState(vc.bot.GuildID(), interactionUserID(i))
		if err != nil || vs == nil || vs.ChannelID == "" {
			RespondEphemeral(s, i, "Join a voice channel first, or pass one with the `channel` option.")
			return
		}
		channelID = vs.ChannelID
	}

	DeferReply(s, i)

	ctx, cancel := context.WithTimeout(context.Background(), joinTimeout)
	defer cancel()
	if err := vc.app.JoinVoice(ctx, channelID); err != nil {
		FollowUp(s, i, fmt.Sprintf("Could not join: %v", err))
		return
	}
	FollowUp(s, i, fmt.Sprintf("Joined <#%s>.", channelID))
}

func (vc *VoiceCommands) handleLeave(s *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if err := vc.app.LeaveVoice(ctx); err != nil {
		RespondError(s, i, err)
		return
	}
	RespondEphemeral(s, i, "Left the voice channel.")
}

func (vc *VoiceCommands) handleWatchStart(s *discordgo.Session, i *discordgo.InteractionCreate) {
	var streamerID string
	for _, opt := range subOptions(i) {
		if opt.Name == "streamer" {
			streamerID = opt.UserValue(nil).ID
		}
	}
	if streamerID == "" {
		RespondEphemeral(s, i, "Pick a member whose stream to watch.")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if err := vc.app.WatchStream(ctx, streamerID); err != nil {
		RespondError(s, i, err)
		return
	}
	RespondEphemeral(s, i, fmt.Sprintf("Watching <@%s>'s stream.", streamerID))
}

func (vc *VoiceCommands) handleWatchStop(s *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if err := vc.app.StopWatching(ctx); err != nil {
		RespondError(s, i, err)
		return
	}
	RespondEphemeral(s, i, "Stopped watching the stream.")
}

func (vc *VoiceCommands) handleSettingsShow(s *discordgo.Session, i *discordgo.InteractionCreate) {
	snap := vc.app.Settings()

	var b strings.Builder
	fmt.Fprintf(&b, "**Bot name:** %s\n", snap.BotName)
	fmt.Fprintf(&b, "**Wake words:** %s\n", strings.Join(snap.WakeWords, ", "))
	fmt.Fprintf(&b, "**Eagerness:** %d\n", snap.Eagerness)
	fmt.Fprintf(&b, "**Classifier:** %s\n", onOff(snap.ClassifierEnabled))
	fmt.Fprintf(&b, "**Stream commentary:** %s", onOff(snap.StreamWatchEnabled))

	if st, ok := vc.app.Status(); ok {
		fmt.Fprintf(&b, "\n**Session:** `%s` in <#%s> (%s mode)", st.SessionID, st.ChannelID, st.Mode)
		if st.Watching != "" {
			fmt.Fprintf(&b, ", watching <@%s>", st.Watching)
		}
	}
	RespondEphemeral(s, i, b.String())
}

func (vc *VoiceCommands) handleSettingsEagerness(s *discordgo.Session, i *discordgo.InteractionCreate) {
	value := intOption(i, "value", -1)
	if value < 0 || value > 100 {
		RespondEphemeral(s, i, "Eagerness must be between 0 and 100.")
		return
	}
	vc.app.UpdateSettings(func(c *config.Settings) { c.Eagerness = value })
	RespondEphemeral(s, i, fmt.Sprintf("Eagerness set to %d.", value))
}

func (vc *VoiceCommands) handleSettingsClassifier(s *discordgo.Session, i *discordgo.InteractionCreate) {
	enabled := boolOption(i, "enabled")
	vc.app.UpdateSettings(func(c *config.Settings) { c.ClassifierEnabled = enabled })
	RespondEphemeral(s, i, fmt.Sprintf("Classifier %s.", onOff(enabled)))
}

func (vc *VoiceCommands) handleSettingsCommentary(s *discordgo.Session, i *discordgo.InteractionCreate) {
	enabled := boolOption(i, "enabled")
	vc.app.UpdateSettings(func(c *config.Settings) { c.StreamWatchEnabled = enabled })
	RespondEphemeral(s, i, fmt.Sprintf("Stream commentary %s.", onOff(enabled)))
}

func (vc *VoiceCommands) handleSettingsName(s *discordgo.Session, i *discordgo.InteractionCreate) {
	name := strings.TrimSpace(stringOption(i, "value"))
	if name == "" {
		RespondEphemeral(s, i, "The bot name cannot be empty.")
		return
	}
	vc.app.UpdateSettings(func(c *config.Settings) { c.BotName = name })
	RespondEphemeral(s, i, fmt.Sprintf("The bot now answers to %q.", name))
}

// subOptions returns the options of the invoked subcommand.
func subOptions(i *discordgo.InteractionCreate) []*discordgo.ApplicationCommandInteractionDataOption {
	data := i.ApplicationCommandData()
	if len(data.Options) > 0 && data.Options[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		return data.Options[0].Options
	}
	return nil
}

func intOption(i *discordgo.InteractionCreate, name string, fallback int) int {
	for _, opt := range subOptions(i) {
		if opt.Name == name {
			return int(opt.IntValue())
		}
	}
	return fallback
}

func boolOption(i *discordgo.InteractionCreate, name string) bool {
	for _, opt := range subOptions(i) {
		if opt.Name == name {
			return opt.BoolValue()
		}
	}
	return false
}

func stringOption(i *discordgo.InteractionCreate, name string) string {
	for _, opt := range subOptions(i) {
		if opt.Name == name {
			return opt.StringValue()
		}
	}
	return ""
}

func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func ptr[T any](v T) *T { return &v }
