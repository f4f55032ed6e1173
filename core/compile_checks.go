package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ SettlementService     = (*Service)(nil)
	_ ReconciliationService = (*Service)(nil)
	_ WebhookService        = (*Service)(nil)
	_ PayloadSigner         = HMACSigner{}

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
