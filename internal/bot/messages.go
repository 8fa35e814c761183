package bot

import (
	"fmt"
	"strings"

	"github.com/open-builders/draw-airdrop-bot/internal/ledger"
	"github.com/open-builders/draw-airdrop-bot/internal/ledger/ton"
	"github.com/open-builders/draw-airdrop-bot/internal/service/notifications"
	"github.com/open-builders/draw-airdrop-bot/internal/service/registration"
	"github.com/open-builders/draw-airdrop-bot/internal/service/status"
)

const (
	msgWelcome         = "Welcome! Please send me your TON address."
	msgSendAddress     = "Please send me your TON address."
	msgAddressTaken    = "Address already in use."
	msgProven          = "Ownership confirmed ✅"
	msgAskReferral     = "Who invited you? Send me their referral code, or \"skip ref\"."
	msgInvalidReferral = "Please send a valid referral code, or \"skip ref\"."
	msgReferralSaved   = "Referral code saved."
	msgTryLater        = "Something went wrong, please try again later."
)

func proofRequestText(res *registration.LinkResult, domain, webAppURL string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "I saved your address %s.\n\n", ton.FriendlyAddress(res.Address))
	b.WriteString("Please prove you own it")
	if webAppURL != "" {
		fmt.Fprintf(&b, " by opening %s and connecting this wallet, or", webAppURL)
	}
	fmt.Fprintf(&b, " by signing a TON Connect proof for domain %s with payload:\n\n%s\n\n", domain, res.Payload)
	b.WriteString("Then send the result here as (signed-message:<base64 proof>).")
	return b.String()
}

func inviteText(code, botUsername string) string {
	if botUsername == "" {
		return fmt.Sprintf("Your referral code: %s", code)
	}
	return fmt.Sprintf("Your referral code: %s\nInvite link: https://t.me/%s?start=%s", code, botUsername, code)
}

func statusText(r *status.UserReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Your points: %s", r.Points.StringFixed(2))
	if r.Chance > 0 {
		fmt.Fprintf(&b, " (%.2f%% of the pool)", r.Chance*100)
	}
	b.WriteString("\n")
	for _, a := range r.Addresses {
		label := "non-attested"
		if a.Attested {
			label = "attested"
		}
		fmt.Fprintf(&b, "\n%s\n(%s) balance %s, points %s\n", ton.FriendlyAddress(a.Address), label,
			notifications.FormatAmount(a.Balance, ledger.AssetNative), a.Points().StringFixed(2))
		bd := a.Breakdown
		if below := bd.BelowThreshold(); below.IsPositive() {
			fmt.Fprintf(&b, "%s points for the first tier\n", below.StringFixed(2))
		}
		if above := bd.AboveThreshold(); above.IsPositive() {
			fmt.Fprintf(&b, "%s points above the first tier\n", above.StringFixed(2))
		}
		if !bd.Momentum.IsZero() {
			fmt.Fprintf(&b, "%s points for the change since the last draw\n", bd.Momentum.StringFixed(2))
		}
	}
	if r.ReferredBy != nil {
		fmt.Fprintf(&b, "\nReferred by: %s", *r.ReferredBy)
	}
	if r.NextDrawAt != nil {
		fmt.Fprintf(&b, "\nNext draw: %s UTC", r.NextDrawAt.UTC().Format("2006-01-02 15:04"))
	}
	fmt.Fprintf(&b, "\n\nCommands: \"%s\", \"%s\", \"%s\", \"%s\"", CmdAddAddress, CmdRef, CmdChangeRef, CmdStatus)
	return b.String()
}
