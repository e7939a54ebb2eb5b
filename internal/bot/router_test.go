package bot

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/pranakorn/creditbot/internal/admin"
	"github.com/pranakorn/creditbot/internal/inventory"
	"github.com/pranakorn/creditbot/internal/lineapi"
	"github.com/pranakorn/creditbot/internal/purchase"
	"github.com/pranakorn/creditbot/internal/slip"
	"github.com/pranakorn/creditbot/internal/token"
	"github.com/pranakorn/creditbot/internal/wallet"
)

type sentMessage struct {
	to       string
	messages []lineapi.Message
}

type stubMessenger struct {
	replies  []sentMessage
	pushes   []sentMessage
	image    []byte
	imageErr error
	replyErr error
}

func (messenger *stubMessenger) ReplyMessage(ctx context.Context, replyToken string, messages ...lineapi.Message) error {
	if messenger.replyErr != nil {
		return messenger.replyErr
	}
	messenger.replies = append(messenger.replies, sentMessage{to: replyToken, messages: messages})
	return nil
}

func (messenger *stubMessenger) PushMessage(ctx context.Context, to string, messages ...lineapi.Message) error {
	messenger.pushes = append(messenger.pushes, sentMessage{to: to, messages: messages})
	return nil
}

func (messenger *stubMessenger) GetProfile(ctx context.Context, userID string) (lineapi.Profile, error) {
	return lineapi.Profile{UserID: userID, DisplayName: "Somchai"}, nil
}

func (messenger *stubMessenger) GetMessageContent(ctx context.Context, messageID string) ([]byte, error) {
	if messenger.imageErr != nil {
		return nil, messenger.imageErr
	}
	return messenger.image, nil
}

func (messenger *stubMessenger) StartLoading(ctx context.Context, chatID string, seconds int) error {
	return nil
}

func (messenger *stubMessenger) lastReply() string {
	if len(messenger.replies) == 0 {
		return ""
	}
	last := messenger.replies[len(messenger.replies)-1]
	parts := make([]string, 0, len(last.messages))
	for _, message := range last.messages {
		parts = append(parts, message.Text)
	}
	return strings.Join(parts, "\n")
}

type stubAccounts struct {
	accounts map[string]wallet.Account
	deltas   []wallet.Satang
	entries  []wallet.Entry
}

func (accounts *stubAccounts) GetOrCreate(ctx context.Context, externalID string, displayName string) (wallet.Account, error) {
	if account, ok := accounts.accounts[externalID]; ok {
		return account, nil
	}
	account := wallet.Account{ID: int64(len(accounts.accounts) + 1), ExternalID: externalID, DisplayName: displayName}
	if accounts.accounts == nil {
		accounts.accounts = make(map[string]wallet.Account)
	}
	accounts.accounts[externalID] = account
	return account, nil
}

func (accounts *stubAccounts) ApplyDelta(ctx context.Context, accountID int64, amount wallet.Satang, entryType wallet.EntryType, description string, options ...wallet.DeltaOption) (wallet.Entry, error) {
	accounts.deltas = append(accounts.deltas, amount)
	return wallet.Entry{AccountID: accountID, Type: entryType, Amount: amount, BalanceAfter: amount}, nil
}

func (accounts *stubAccounts) ListEntries(ctx context.Context, accountID int64, limit int) ([]wallet.Entry, error) {
	return accounts.entries, nil
}

type stubCatalog struct {
	product    inventory.Product
	resolveErr error
	count      int
}

func (catalog *stubCatalog) Resolve(ctx context.Context, reference string) (inventory.Product, error) {
	if catalog.resolveErr != nil {
		return inventory.Product{}, catalog.resolveErr
	}
	return catalog.product, nil
}

func (catalog *stubCatalog) AvailableCount(ctx context.Context, productID int64) (int, error) {
	return catalog.count, nil
}

type stubPurchaser struct {
	receipt  purchase.Receipt
	buyErr   error
	giftErr  error
	buys     int
	gifts    int
	lastNote string
}

func (purchaser *stubPurchaser) Buy(ctx context.Context, accountID int64, identifier string) (purchase.Receipt, error) {
	purchaser.buys++
	if purchaser.buyErr != nil {
		return purchase.Receipt{}, purchaser.buyErr
	}
	return purchaser.receipt, nil
}

func (purchaser *stubPurchaser) Gift(ctx context.Context, accountID int64, identifier string, note string) (purchase.Receipt, error) {
	purchaser.gifts++
	purchaser.lastNote = note
	if purchaser.giftErr != nil {
		return purchase.Receipt{}, purchaser.giftErr
	}
	return purchaser.receipt, nil
}

type stubSlips struct {
	result    slip.SubmitResult
	submitErr error
	submits   int
}

func (slips *stubSlips) Submit(ctx context.Context, accountID int64, image []byte, imageURL string) (slip.SubmitResult, error) {
	slips.submits++
	if slips.submitErr != nil {
		return slip.SubmitResult{}, slips.submitErr
	}
	return slips.result, nil
}

type stubTokens struct {
	redemption token.Redemption
	redeemErr  error
}

func (tokens *stubTokens) Redeem(ctx context.Context, accountID int64, code string) (token.Redemption, error) {
	if tokens.redeemErr != nil {
		return token.Redemption{}, tokens.redeemErr
	}
	return tokens.redemption, nil
}

type stubSettings struct {
	products []inventory.Product
	values   map[string]string
	saved    map[string]string
}

func (settings *stubSettings) Products(ctx context.Context, includeInactive bool) ([]inventory.Product, error) {
	if includeInactive {
		return settings.products, nil
	}
	active := make([]inventory.Product, 0, len(settings.products))
	for _, product := range settings.products {
		if product.Active {
			active = append(active, product)
		}
	}
	return active, nil
}

func (settings *stubSettings) Setting(ctx context.Context, key string) (string, error) {
	return settings.values[key], nil
}

func (settings *stubSettings) SetSetting(ctx context.Context, key string, value string) error {
	if settings.saved == nil {
		settings.saved = make(map[string]string)
	}
	settings.saved[key] = value
	return nil
}

type routerFixture struct {
	router    *Router
	messenger *stubMessenger
	accounts  *stubAccounts
	catalog   *stubCatalog
	purchaser *stubPurchaser
	slips     *stubSlips
	tokens    *stubTokens
	settings  *stubSettings
}

func newFixture(t *testing.T) *routerFixture {
	t.Helper()
	fixture := &routerFixture{
		messenger: &stubMessenger{image: []byte("jpeg")},
		accounts:  &stubAccounts{accounts: make(map[string]wallet.Account)},
		catalog:   &stubCatalog{},
		purchaser: &stubPurchaser{},
		slips:     &stubSlips{},
		tokens:    &stubTokens{},
		settings:  &stubSettings{values: make(map[string]string)},
	}
	router, err := NewRouter(RouterConfig{
		Messenger:  fixture.messenger,
		Accounts:   fixture.accounts,
		Catalog:    fixture.catalog,
		Purchaser:  fixture.purchaser,
		Slips:      fixture.slips,
		Tokens:     fixture.tokens,
		Settings:   fixture.settings,
		Logger:     zap.NewNop(),
		SetupToken: "setup-token-1",
	})
	if err != nil {
		t.Fatalf("router init: %v", err)
	}
	fixture.router = router
	return fixture
}

func (fixture *routerFixture) seedUser(externalID string, account wallet.Account) {
	account.ExternalID = externalID
	fixture.accounts.accounts[externalID] = account
}

func textEvent(userID string, text string) lineapi.Event {
	return lineapi.Event{
		Type:       lineapi.EventTypeMessage,
		ReplyToken: "rt-1",
		Source:     lineapi.EventSource{Type: lineapi.SourceTypeUser, UserID: userID},
		Message:    &lineapi.EventMessage{ID: "m1", Type: lineapi.MessageTypeText, Text: text},
	}
}

func groupTextEvent(userID string, groupID string, text string) lineapi.Event {
	return lineapi.Event{
		Type:       lineapi.EventTypeMessage,
		ReplyToken: "rt-1",
		Source:     lineapi.EventSource{Type: lineapi.SourceTypeGroup, UserID: userID, GroupID: groupID},
		Message:    &lineapi.EventMessage{ID: "m1", Type: lineapi.MessageTypeText, Text: text},
	}
}

func TestBalanceReply(t *testing.T) {
	t.Parallel()
	fixture := newFixture(t)
	fixture.seedUser("U1", wallet.Account{ID: 1, Balance: -30_00, CreditLimit: 50_00})

	fixture.router.HandleEvent(context.Background(), textEvent("U1", "balance"))

	reply := fixture.messenger.lastReply()
	if !strings.Contains(reply, "-฿30.00") || !strings.Contains(reply, "฿50.00") || !strings.Contains(reply, "฿20.00") {
		t.Fatalf("balance reply missing figures: %q", reply)
	}
}

func TestUnknownCommand(t *testing.T) {
	t.Parallel()
	fixture := newFixture(t)

	fixture.router.HandleEvent(context.Background(), textEvent("U1", "frobnicate"))

	if !strings.Contains(fixture.messenger.lastReply(), "Unknown command") {
		t.Fatalf("expected the unknown-command reply, got %q", fixture.messenger.lastReply())
	}
}

func TestBuySuccessDisclosesPayload(t *testing.T) {
	t.Parallel()
	fixture := newFixture(t)
	fixture.seedUser("U1", wallet.Account{ID: 1, CreditLimit: 100_00})
	fixture.purchaser.receipt = purchase.Receipt{
		Product:    inventory.Product{ID: 5, Name: "Premium", Price: 30_00},
		NewBalance: -30_00,
		Disclosure: "user alice pass s3cret",
		Spend:      wallet.SpendResult{LimitRaised: true, CreditLimit: 50_00},
	}

	fixture.router.HandleEvent(context.Background(), textEvent("U1", "buy 5"))

	reply := fixture.messenger.lastReply()
	if !strings.Contains(reply, "Purchased Premium") {
		t.Fatalf("missing purchase confirmation: %q", reply)
	}
	if !strings.Contains(reply, "user alice pass s3cret") {
		t.Fatalf("missing payload disclosure: %q", reply)
	}
	if !strings.Contains(reply, "credit limit was raised to ฿50.00") {
		t.Fatalf("missing limit-raise congratulation: %q", reply)
	}
}

func TestBuyInsufficientCredit(t *testing.T) {
	t.Parallel()
	fixture := newFixture(t)
	fixture.purchaser.buyErr = wallet.ErrInsufficientCredit

	fixture.router.HandleEvent(context.Background(), textEvent("U1", "buy 5"))

	if !strings.Contains(fixture.messenger.lastReply(), "Not enough credit") {
		t.Fatalf("expected the credit refusal, got %q", fixture.messenger.lastReply())
	}
}

func TestBuyOutOfStock(t *testing.T) {
	t.Parallel()
	fixture := newFixture(t)
	fixture.purchaser.buyErr = inventory.ErrStockExhausted

	fixture.router.HandleEvent(context.Background(), textEvent("U1", "buy 5"))

	if !strings.Contains(fixture.messenger.lastReply(), "Out of stock") {
		t.Fatalf("expected the stock refusal, got %q", fixture.messenger.lastReply())
	}
}

func TestLoadRedeemsToken(t *testing.T) {
	t.Parallel()
	fixture := newFixture(t)
	fixture.tokens.redemption = token.Redemption{
		CreditGranted: 100_00,
		NewBalance:    100_00,
		LimitGranted:  50_00,
	}

	fixture.router.HandleEvent(context.Background(), textEvent("U1", "load AB12CD34"))

	reply := fixture.messenger.lastReply()
	if !strings.Contains(reply, "credited ฿100.00") || !strings.Contains(reply, "credit limit +฿50.00") {
		t.Fatalf("redemption reply missing grants: %q", reply)
	}
}

func TestSlipImageCredits(t *testing.T) {
	t.Parallel()
	fixture := newFixture(t)
	fixture.slips.result = slip.SubmitResult{
		Record:   slip.Record{Amount: 100_00},
		Entry:    wallet.Entry{BalanceAfter: 70_00},
		Credited: true,
	}
	event := textEvent("U1", "")
	event.Message = &lineapi.EventMessage{ID: "m9", Type: lineapi.MessageTypeImage}

	fixture.router.HandleEvent(context.Background(), event)

	reply := fixture.messenger.lastReply()
	if !strings.Contains(reply, "Top-up received: ฿100.00") || !strings.Contains(reply, "฿70.00") {
		t.Fatalf("top-up reply missing figures: %q", reply)
	}
	if fixture.slips.submits != 1 {
		t.Fatalf("expected one slip submission, got %d", fixture.slips.submits)
	}
}

func TestSlipImageParkedPending(t *testing.T) {
	t.Parallel()
	fixture := newFixture(t)
	fixture.slips.result = slip.SubmitResult{Record: slip.Record{Status: slip.StatusPending}, Credited: false}
	event := textEvent("U1", "")
	event.Message = &lineapi.EventMessage{ID: "m9", Type: lineapi.MessageTypeImage}

	fixture.router.HandleEvent(context.Background(), event)

	if !strings.Contains(fixture.messenger.lastReply(), "waiting for review") {
		t.Fatalf("expected the pending reply, got %q", fixture.messenger.lastReply())
	}
}

func TestAdminCommandsRequireAdmin(t *testing.T) {
	t.Parallel()
	fixture := newFixture(t)
	fixture.seedUser("U1", wallet.Account{ID: 1, IsAdmin: false})

	fixture.router.HandleEvent(context.Background(), textEvent("U1", "target U2"))

	if !strings.Contains(fixture.messenger.lastReply(), "Unknown command") {
		t.Fatalf("non-admin must not reach admin commands, got %q", fixture.messenger.lastReply())
	}
	if fixture.purchaser.gifts != 0 {
		t.Fatalf("no gift may fire for a non-admin")
	}
}

func TestGrantConfirmFlow(t *testing.T) {
	t.Parallel()
	fixture := newFixture(t)
	fixture.seedUser("ADMIN", wallet.Account{ID: 1, IsAdmin: true})
	ctx := context.Background()

	fixture.router.HandleEvent(ctx, textEvent("ADMIN", "target U7"))
	fixture.router.HandleEvent(ctx, textEvent("ADMIN", "grant 50"))
	if !strings.Contains(fixture.messenger.lastReply(), "Grant ฿50.00 to U7?") {
		t.Fatalf("expected the grant proposal, got %q", fixture.messenger.lastReply())
	}
	if len(fixture.accounts.deltas) != 0 {
		t.Fatalf("proposal must not move money yet")
	}

	fixture.router.HandleEvent(ctx, textEvent("ADMIN", "confirm"))
	if len(fixture.accounts.deltas) != 1 || fixture.accounts.deltas[0] != 50_00 {
		t.Fatalf("confirm must apply the grant, got %v", fixture.accounts.deltas)
	}
	if len(fixture.messenger.pushes) != 1 || fixture.messenger.pushes[0].to != "U7" {
		t.Fatalf("recipient must be notified, got %v", fixture.messenger.pushes)
	}

	// A second confirm finds nothing; the grant was consumed.
	fixture.router.HandleEvent(ctx, textEvent("ADMIN", "confirm"))
	if len(fixture.accounts.deltas) != 1 {
		t.Fatalf("grant must apply exactly once, got %v", fixture.accounts.deltas)
	}
}

func TestGiftDeliversToRecipient(t *testing.T) {
	t.Parallel()
	fixture := newFixture(t)
	fixture.seedUser("ADMIN", wallet.Account{ID: 1, IsAdmin: true})
	fixture.purchaser.receipt = purchase.Receipt{
		Product:    inventory.Product{Name: "Premium"},
		NewBalance: -70_00,
		Disclosure: "user alice pass s3cret",
	}

	fixture.router.HandleEvent(context.Background(), textEvent("ADMIN", "give U7 premium"))

	if fixture.purchaser.gifts != 1 {
		t.Fatalf("expected one gift, got %d", fixture.purchaser.gifts)
	}
	if !strings.Contains(fixture.purchaser.lastNote, "ADMIN") {
		t.Fatalf("gift note must name the admin, got %q", fixture.purchaser.lastNote)
	}
	if len(fixture.messenger.pushes) != 1 || fixture.messenger.pushes[0].to != "U7" {
		t.Fatalf("payload must be pushed to the recipient, got %v", fixture.messenger.pushes)
	}
}

func TestGroupSetupBindsAdminGroup(t *testing.T) {
	t.Parallel()
	fixture := newFixture(t)
	fixture.seedUser("ADMIN", wallet.Account{ID: 1, IsAdmin: true})
	ctx := context.Background()

	fixture.router.HandleEvent(ctx, groupTextEvent("ADMIN", "G1", "setup wrong-token"))
	if fixture.settings.saved[admin.SettingAdminGroupID] != "" {
		t.Fatalf("wrong token must not bind the group")
	}

	fixture.router.HandleEvent(ctx, groupTextEvent("ADMIN", "G1", "setup setup-token-1"))
	if fixture.settings.saved[admin.SettingAdminGroupID] != "G1" {
		t.Fatalf("matching token must bind the group, saved %v", fixture.settings.saved)
	}

	// Non-admins cannot bind even with the right token.
	fixture.settings.saved = nil
	fixture.router.HandleEvent(ctx, groupTextEvent("U9", "G2", "setup setup-token-1"))
	if len(fixture.settings.saved) != 0 {
		t.Fatalf("non-admin must not bind the group, saved %v", fixture.settings.saved)
	}
}

func TestGroupChatIgnoresCustomerCommands(t *testing.T) {
	t.Parallel()
	fixture := newFixture(t)
	fixture.seedUser("U1", wallet.Account{ID: 1})

	fixture.router.HandleEvent(context.Background(), groupTextEvent("U1", "G1", "buy 5"))

	if fixture.purchaser.buys != 0 {
		t.Fatalf("group chat must not trigger purchases")
	}
	if len(fixture.messenger.replies) != 0 {
		t.Fatalf("group chat must stay silent for customer commands, got %v", fixture.messenger.replies)
	}
}

func TestCreditRequestRoutedToAdminGroup(t *testing.T) {
	t.Parallel()
	fixture := newFixture(t)
	fixture.seedUser("U1", wallet.Account{ID: 1, DisplayName: "Somchai"})
	fixture.settings.values[admin.SettingAdminGroupID] = "G1"

	fixture.router.HandleEvent(context.Background(), textEvent("U1", "request"))

	if len(fixture.messenger.pushes) != 1 || fixture.messenger.pushes[0].to != "G1" {
		t.Fatalf("request must push to the admin group, got %v", fixture.messenger.pushes)
	}
	if !strings.Contains(fixture.messenger.lastReply(), "sent to the team") {
		t.Fatalf("requester must be acknowledged, got %q", fixture.messenger.lastReply())
	}
}

func TestCreditRequestWithoutAdminGroup(t *testing.T) {
	t.Parallel()
	fixture := newFixture(t)

	fixture.router.HandleEvent(context.Background(), textEvent("U1", "request"))

	if len(fixture.messenger.pushes) != 0 {
		t.Fatalf("no push without a bound group, got %v", fixture.messenger.pushes)
	}
	if !strings.Contains(fixture.messenger.lastReply(), "not available") {
		t.Fatalf("expected the unavailable reply, got %q", fixture.messenger.lastReply())
	}
}

func TestFollowUsesConfiguredWelcome(t *testing.T) {
	t.Parallel()
	fixture := newFixture(t)
	fixture.settings.values[admin.SettingWelcomeMessage] = "Hi from the shop!"

	fixture.router.HandleEvent(context.Background(), lineapi.Event{
		Type:       lineapi.EventTypeFollow,
		ReplyToken: "rt-1",
		Source:     lineapi.EventSource{Type: lineapi.SourceTypeUser, UserID: "U1"},
	})

	if fixture.messenger.lastReply() != "Hi from the shop!" {
		t.Fatalf("expected the configured welcome, got %q", fixture.messenger.lastReply())
	}
}
