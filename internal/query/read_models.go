package query

// Re-export read models from readmodel package
import "github.com/example/komodo-checkout/internal/readmodel"

type CheckoutAttemptReadModel = readmodel.CheckoutAttemptReadModel
