package address

// Well-known addresses of the nodes created at genesis.
var (
	// ResourcePackage holds the resource manager, vault, bucket and proof
	// blueprints.
	ResourcePackage = System(EntityPackage, "resource")
	// AccountPackage holds the account blueprint.
	AccountPackage = System(EntityPackage, "account")
	// PackagePackage holds the blueprint that publishes packages.
	PackagePackage = System(EntityPackage, "package")
	// SystemPackage holds the epoch manager and clock blueprints.
	SystemPackage = System(EntityPackage, "system")
	// ProcessorPackage holds the transaction processor.
	ProcessorPackage = System(EntityPackage, "processor")

	// NativeToken is the resource used to pay fees.
	NativeToken = System(EntityResourceManager, "native-token")
	// SignatureBadge is the resource of the virtual proofs of the signers.
	SignatureBadge = System(EntityResourceManager, "signature-badge")
	// SystemBadge is the resource of the virtual proof of system
	// transactions.
	SystemBadge = System(EntityResourceManager, "system-badge")

	// FeeCollector is the vault that receives the fees.
	FeeCollector = System(EntityVault, "fee-collector")
	// EpochManager is the node of the current epoch.
	EpochManager = System(EntityEpochManager, "epoch-manager")
	// Clock is the node of the current time.
	Clock = System(EntityClock, "clock")
	// IntentTracker is the node that records the committed transactions.
	IntentTracker = System(EntityTracker, "intents")
)
